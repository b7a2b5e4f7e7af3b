// Package flowmon observes packets on a medium and keeps per-flow counters.
package flowmon

import (
	"sync"

	"github.com/sarchlab/malnet/flowstats"
)

// A Classifier assigns flow IDs to 5-tuples. IDs start at 1 and follow the
// order in which the flows are first seen.
type Classifier struct {
	lock sync.Mutex
	ids  map[flowstats.FlowKey]uint32
	keys []flowstats.FlowKey
}

// NewClassifier creates an empty Classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		ids: make(map[flowstats.FlowKey]uint32),
	}
}

// Classify returns the flow ID of a key and whether the flow is new.
func (c *Classifier) Classify(key flowstats.FlowKey) (id uint32, isNew bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if id, found := c.ids[key]; found {
		return id, false
	}

	c.keys = append(c.keys, key)
	id = uint32(len(c.keys))
	c.ids[key] = id

	return id, true
}

// FindFlow returns the key of a flow ID.
func (c *Classifier) FindFlow(id uint32) (flowstats.FlowKey, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if id == 0 || int(id) > len(c.keys) {
		return flowstats.FlowKey{}, false
	}

	return c.keys[id-1], true
}
