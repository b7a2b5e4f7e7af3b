package flowmon

import (
	"sort"
	"sync"

	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/network"
	"github.com/sarchlab/malnet/sim"
)

type trackedPacket struct {
	flowID   uint32
	sendTime sim.VTimeInSec
}

// A Monitor is a hook that counts transmitted, received and lost packets per
// flow. Install it on every medium whose traffic should be measured.
type Monitor struct {
	lock       sync.Mutex
	timeTeller sim.TimeTeller
	classifier *Classifier

	flows    map[uint32]*flowstats.FlowRecord
	inFlight map[string]trackedPacket
}

// NewMonitor creates a Monitor that reads the clock from timeTeller.
func NewMonitor(timeTeller sim.TimeTeller) *Monitor {
	return &Monitor{
		timeTeller: timeTeller,
		classifier: NewClassifier(),
		flows:      make(map[uint32]*flowstats.FlowRecord),
		inFlight:   make(map[string]trackedPacket),
	}
}

// Install attaches the monitor to hookable domains, usually mediums.
func (m *Monitor) Install(domains ...sim.Hookable) {
	for _, d := range domains {
		d.AcceptHook(m)
	}
}

// Classifier returns the classifier that maps flows to IDs.
func (m *Monitor) Classifier() *Classifier {
	return m.classifier
}

// Func updates the flow counters.
func (m *Monitor) Func(ctx sim.HookCtx) {
	pkt, ok := ctx.Item.(*network.Packet)
	if !ok {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	switch ctx.Pos {
	case network.HookPosPacketTx:
		m.recordTx(pkt)
	case network.HookPosPacketRx:
		m.recordRx(pkt)
	case network.HookPosPacketDrop:
		m.recordDrop(pkt)
	}
}

func (m *Monitor) flowOf(pkt *network.Packet) *flowstats.FlowRecord {
	id, isNew := m.classifier.Classify(pkt.Key)
	if isNew {
		m.flows[id] = &flowstats.FlowRecord{FlowID: id, Key: pkt.Key}
	}

	return m.flows[id]
}

func (m *Monitor) recordTx(pkt *network.Packet) {
	now := m.timeTeller.CurrentTime()
	flow := m.flowOf(pkt)

	if flow.TxPackets == 0 {
		flow.TimeFirstTxPacket = now
	}
	flow.TimeLastTxPacket = now
	flow.TxPackets++
	flow.TxBytes += uint64(pkt.Size)

	m.inFlight[pkt.ID] = trackedPacket{flowID: flow.FlowID, sendTime: now}
}

// recordRx counts every delivery, including duplicates of a packet that was
// already delivered.
func (m *Monitor) recordRx(pkt *network.Packet) {
	now := m.timeTeller.CurrentTime()
	flow := m.flowOf(pkt)

	sendTime := pkt.SendTime
	if tracked, found := m.inFlight[pkt.ID]; found {
		sendTime = tracked.sendTime
		delete(m.inFlight, pkt.ID)
	}

	if flow.RxPackets == 0 {
		flow.TimeFirstRxPacket = now
	}
	flow.TimeLastRxPacket = now
	flow.RxPackets++
	flow.RxBytes += uint64(pkt.Size)
	flow.DelaySum += now - sendTime
}

func (m *Monitor) recordDrop(pkt *network.Packet) {
	tracked, found := m.inFlight[pkt.ID]
	if !found {
		return
	}

	delete(m.inFlight, pkt.ID)
	m.flows[tracked.flowID].LostPackets++
}

// CheckForLostPackets declares the packets that have been in flight for
// longer than maxDelay as lost.
func (m *Monitor) CheckForLostPackets(maxDelay sim.VTimeInSec) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.timeTeller.CurrentTime()
	for id, tracked := range m.inFlight {
		if now-tracked.sendTime > maxDelay {
			m.flows[tracked.flowID].LostPackets++
			delete(m.inFlight, id)
		}
	}
}

// NumInFlight returns the number of packets sent but neither received nor
// declared lost.
func (m *Monitor) NumInFlight() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.inFlight)
}

// Records returns a snapshot of the flow records ordered by flow ID.
func (m *Monitor) Records() []flowstats.FlowRecord {
	m.lock.Lock()
	defer m.lock.Unlock()

	records := make([]flowstats.FlowRecord, 0, len(m.flows))
	for _, f := range m.flows {
		records = append(records, *f)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FlowID < records[j].FlowID
	})

	return records
}
