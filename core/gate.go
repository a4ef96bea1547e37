package core

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate caps the number of simultaneously executing invocations.
// Excess callers wait in Acquire until a slot is released; they are never rejected.
type ConcurrencyGate struct {
	max      int
	sem      *semaphore.Weighted
	inFlight atomic.Int32
	waiting  atomic.Int32
}

// NewConcurrencyGate creates a gate admitting up to max concurrent holders.
func NewConcurrencyGate(max int) (*ConcurrencyGate, error) {
	if max < 1 {
		return nil, ErrInvalidConcurrency
	}
	return &ConcurrencyGate{max: max, sem: semaphore.NewWeighted(int64(max))}, nil
}

// Max returns the configured concurrency limit.
func (g *ConcurrencyGate) Max() int {
	return g.max
}

// Acquire blocks until a slot is free. It returns ctx.Err() if ctx ends first,
// in which case no slot is held.
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

// Release frees one slot. Each successful Acquire must be paired with exactly
// one Release.
func (g *ConcurrencyGate) Release() {
	if g.inFlight.Add(-1) < 0 {
		g.inFlight.Add(1)
		panic("ConcurrencyGate: release without matching acquire")
	}
	g.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released on every path out of
// fn, including panics.
func (g *ConcurrencyGate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// InFlight returns the number of current holders.
func (g *ConcurrencyGate) InFlight() int {
	return int(g.inFlight.Load())
}

// Stats returns a snapshot of the gate counters.
func (g *ConcurrencyGate) Stats() GateStats {
	return GateStats{
		Max:      g.max,
		InFlight: int(g.inFlight.Load()),
		Waiting:  int(g.waiting.Load()),
	}
}
