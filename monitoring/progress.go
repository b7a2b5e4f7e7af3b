package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/malnet/sim"
)

// A ProgressBar is a tracker of the progress
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress adds the number of in-progress element.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFinished add a certain amount to finished element.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// SetFinished moves the bar to an absolute position.
func (b *ProgressBar) SetFinished(finished uint64) {
	b.Lock()
	defer b.Unlock()

	if finished > b.Total {
		finished = b.Total
	}

	b.Finished = finished
}

// MoveInProgressToFinished reduces the number of in progress item by a certain
// amount and increase the finished item by the same amount.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= amount
	b.Finished += amount
}

type progressSnapshot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

func (b *ProgressBar) snapshot() progressSnapshot {
	b.Lock()
	defer b.Unlock()

	return progressSnapshot{
		ID:         b.ID,
		Name:       b.Name,
		StartTime:  b.StartTime,
		Total:      b.Total,
		Finished:   b.Finished,
		InProgress: b.InProgress,
	}
}

// A SimTimeTracker is an engine hook that moves a progress bar along with the
// simulated time. The bar counts in units of resolution seconds.
type SimTimeTracker struct {
	bar        *ProgressBar
	resolution sim.VTimeInSec
}

// NewSimTimeTracker creates a tracker. The total of the bar should be the
// simulation time divided by the resolution.
func NewSimTimeTracker(
	bar *ProgressBar,
	resolution sim.VTimeInSec,
) *SimTimeTracker {
	if resolution <= 0 {
		panic("resolution must be positive")
	}

	return &SimTimeTracker{bar: bar, resolution: resolution}
}

// Func updates the bar after each event.
func (t *SimTimeTracker) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	timeTeller, ok := ctx.Domain.(sim.TimeTeller)
	if !ok {
		return
	}

	t.bar.SetFinished(uint64(timeTeller.CurrentTime() / t.resolution))
}
