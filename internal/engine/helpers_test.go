package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/autokit/internal/backoff"
	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store/memory"
	"github.com/roach88/autokit/internal/testutil"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// flakyRuns fails the next failUpserts run writes with a persistence error.
// afterUpsert, when set before use, runs after every successful write.
type flakyRuns struct {
	*memory.Store
	failUpserts atomic.Int64
	upserts     atomic.Int64
	afterUpsert func(model.Run)
}

var errDiskFull = errors.New("disk full")

func (f *flakyRuns) UpsertRun(ctx context.Context, r model.Run) (string, error) {
	f.upserts.Add(1)
	if f.failUpserts.Load() > 0 {
		f.failUpserts.Add(-1)
		return "", model.NewPersistenceError("upsert run", errDiskFull)
	}
	id, err := f.Store.UpsertRun(ctx, r)
	if err == nil && f.afterUpsert != nil {
		f.afterUpsert(r)
	}
	return id, err
}

func newFlakyRuns(clock model.Clock) *flakyRuns {
	return &flakyRuns{Store: memory.New(memory.WithClock(clock))}
}

func newTestOrchestrator(t *testing.T, runs RunStore, clock model.Clock) *Orchestrator {
	t.Helper()
	return NewOrchestrator(runs,
		WithClock(clock),
		WithRunIDGenerator(testutil.NewSequentialIDs("run").Generate),
		WithRetry(3, backoff.Constant{Interval: time.Millisecond}),
		WithLogger(quietLogger()),
	)
}
