package queue

import (
	"context"
	"sync"
)

// Gate halts claiming across all worker pools. Jobs stay in storage while paused.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewGate creates an open gate
func NewGate() *Gate {
	return &Gate{}
}

// Pause closes the gate. Reports false if it was already paused.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return false
	}
	g.paused = true
	g.resumed = make(chan struct{})
	return true
}

// Resume opens the gate and wakes waiting workers. Reports false if it was not paused.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resumed)
	return true
}

// Paused reports whether the gate is closed
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while the gate is paused
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resumed
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
