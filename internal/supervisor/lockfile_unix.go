//go:build unix

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// LockFileGuard holds an exclusive flock on a file for as long as the
// engine is alive. The kernel drops the lock if the process dies, so a
// restart after a kill can always re-acquire it.
type LockFileGuard struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewLockFileGuard creates a guard over path. The file is created on first
// Acquire and never removed.
func NewLockFileGuard(path string) *LockFileGuard {
	return &LockFileGuard{path: path}
}

// Acquire takes the lock without blocking. It fails with ErrGuardBusy while
// another open file description holds it.
func (g *LockFileGuard) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.f != nil {
		return fmt.Errorf("lock %s: already held by this guard", g.path)
	}

	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("lock %s: %w", g.path, ErrGuardBusy)
		}
		return fmt.Errorf("lock %s: %w", g.path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	g.f = f
	return nil
}

// Release drops the lock. Releasing an unheld guard is a no-op.
func (g *LockFileGuard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.f == nil {
		return nil
	}
	f := g.f
	g.f = nil

	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", g.path, unlockErr)
	}
	return closeErr
}
