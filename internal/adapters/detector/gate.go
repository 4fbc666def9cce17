package detector

import (
	"context"
	"sync/atomic"

	"github.com/okian/posefuse/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// Gate bounds concurrent detector calls to the number of accelerator slots.
// It is shared by every view and job in the process.
type Gate struct {
	sem   *semaphore.Weighted
	slots int
	inUse atomic.Int64
}

// NewGate creates a gate with slots permits; fewer than one means one.
func NewGate(slots int) *Gate {
	if slots < 1 {
		slots = 1
	}
	metrics.UpdateAcceleratorSlots(slots)
	return &Gate{sem: semaphore.NewWeighted(int64(slots)), slots: slots}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.UpdateAcceleratorInUse(int(g.inUse.Add(1)))
	return nil
}

// Release returns a slot taken by Acquire.
func (g *Gate) Release() {
	metrics.UpdateAcceleratorInUse(int(g.inUse.Add(-1)))
	g.sem.Release(1)
}

// Slots is the configured capacity.
func (g *Gate) Slots() int { return g.slots }

// InUse is the number of slots currently held.
func (g *Gate) InUse() int { return int(g.inUse.Load()) }
