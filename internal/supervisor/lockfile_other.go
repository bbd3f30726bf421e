//go:build !unix

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// LockFileGuard uses exclusive file creation where flock is unavailable.
// A file left behind by a killed process must be removed by hand.
type LockFileGuard struct {
	path string

	mu   sync.Mutex
	held bool
}

func NewLockFileGuard(path string) *LockFileGuard {
	return &LockFileGuard{path: path}
}

func (g *LockFileGuard) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return fmt.Errorf("lock %s: already held by this guard", g.path)
	}
	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("lock %s: %w", g.path, ErrGuardBusy)
		}
		return fmt.Errorf("open lock file: %w", err)
	}
	g.held = true
	return f.Close()
}

func (g *LockFileGuard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return nil
	}
	g.held = false
	return os.Remove(g.path)
}
