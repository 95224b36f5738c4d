package broker

import (
	"context"
	"sync"
)

// gate is a one-shot readiness latch that can be re-armed. The live broker
// blocks order routing on it until the order-stream subscription is
// acknowledged, and clears it on every stream reset.
//
// Invariant: the current channel is closed iff the gate is set, so a
// waiter always observes either the close or a fresh channel.
type gate struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

// Set opens the gate, releasing all waiters.
func (g *gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.set = true
		close(g.ch)
	}
}

// Clear re-arms the gate.
func (g *gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.set = false
		g.ch = make(chan struct{})
	}
}

// IsSet reports the gate state without blocking.
func (g *gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Wait blocks until the gate is set or the context ends.
func (g *gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	set := g.set
	g.mu.Unlock()

	if set {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
