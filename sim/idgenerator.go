package sim

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// NewSequentialIDGenerator returns a generator that produces 1, 2, 3, ...
// The IDs are deterministic across runs.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewParallelIDGenerator returns a generator that can be used from multiple
// goroutines without coordination. The IDs generated are not deterministic.
func NewParallelIDGenerator() IDGenerator {
	return parallelIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	id := strconv.FormatUint(idNumber, 10)

	return id
}

type parallelIDGenerator struct {
}

func (g parallelIDGenerator) Generate() string {
	return xid.New().String()
}
