package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrGuardHeld is returned by CountingGuard.Acquire while already held.
var ErrGuardHeld = errors.New("testutil: guard already held")

// CountingGuard records how often the exclusive resource is taken and
// returned. A second Acquire without Release fails, which is the bug the
// supervisor exists to prevent.
type CountingGuard struct {
	mu       sync.Mutex
	held     bool
	acquires atomic.Int64
	releases atomic.Int64

	// FailAcquire makes the next Acquire calls fail when non-nil.
	FailAcquire error
}

// Acquire takes the guard.
func (g *CountingGuard) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailAcquire != nil {
		return g.FailAcquire
	}
	if g.held {
		return ErrGuardHeld
	}
	g.held = true
	g.acquires.Add(1)
	return nil
}

// Release returns the guard. Releasing an unheld guard is a no-op.
func (g *CountingGuard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return nil
	}
	g.held = false
	g.releases.Add(1)
	return nil
}

// Held reports whether the guard is currently taken.
func (g *CountingGuard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Acquires returns the number of successful acquisitions.
func (g *CountingGuard) Acquires() int64 { return g.acquires.Load() }

// Releases returns the number of releases of a held guard.
func (g *CountingGuard) Releases() int64 { return g.releases.Load() }
