package supervisor

import (
	"context"
	"errors"
)

// ErrGuardBusy is returned when another holder owns the lock file.
var ErrGuardBusy = errors.New("supervisor: guard held by another process")

// NopGuard is a Guard with no backing resource.
type NopGuard struct{}

func (NopGuard) Acquire(ctx context.Context) error { return ctx.Err() }

func (NopGuard) Release() error { return nil }
