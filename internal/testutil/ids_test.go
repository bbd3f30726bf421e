package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("run")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-2", g.Generate())
}

func TestCountingGuard_RejectsDoubleAcquire(t *testing.T) {
	g := &CountingGuard{}
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	assert.ErrorIs(t, g.Acquire(ctx), ErrGuardHeld)
	assert.True(t, g.Held())

	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
	assert.Equal(t, int64(1), g.Acquires())
	assert.Equal(t, int64(1), g.Releases())
	assert.False(t, g.Held())
}
