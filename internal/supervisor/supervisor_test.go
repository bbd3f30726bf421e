package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/testutil"
)

type fakeWorker struct {
	attaches  atomic.Int64
	detaches  atomic.Int64
	kicks     atomic.Int64
	attachErr error
	panicOn   bool
	live      map[string]bool
}

func (w *fakeWorker) Attach(context.Context) (func(), error) {
	if w.panicOn {
		panic("attach exploded")
	}
	if w.attachErr != nil {
		return nil, w.attachErr
	}
	w.attaches.Add(1)
	return func() { w.detaches.Add(1) }, nil
}

func (w *fakeWorker) Kick() { w.kicks.Add(1) }

func (w *fakeWorker) IsLive(id string) bool { return w.live[id] }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *transitionLog) record(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, from.String()+"->"+to.String())
}

func (l *transitionLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

func newTestSupervisor(guard Guard, worker Worker, log *transitionLog) *Supervisor {
	opts := []Option{WithLogger(quietLogger())}
	if log != nil {
		opts = append(opts, WithTransitionHook(log.record))
	}
	return New(guard, worker, opts...)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", Idle.String())
	assert.Equal(t, "Starting", Starting.String())
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Stopping", Stopping.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestActivateDeactivateLifecycle(t *testing.T) {
	guard := &testutil.CountingGuard{}
	worker := &fakeWorker{}
	log := &transitionLog{}
	s := newTestSupervisor(guard, worker, log)
	ctx := context.Background()

	assert.Equal(t, Idle, s.CurrentState())
	require.NoError(t, s.Activate(ctx))
	assert.Equal(t, Running, s.CurrentState())
	assert.True(t, guard.Held())

	require.NoError(t, s.Deactivate())
	assert.Equal(t, Idle, s.CurrentState())
	assert.False(t, guard.Held())

	assert.Equal(t, []string{"Idle->Starting", "Starting->Running", "Running->Stopping", "Stopping->Idle"}, log.get())
	assert.Equal(t, int64(1), worker.attaches.Load())
	assert.Equal(t, int64(1), worker.detaches.Load())
}

func TestActivateWhileRunningOnlyKicks(t *testing.T) {
	guard := &testutil.CountingGuard{}
	worker := &fakeWorker{}
	s := newTestSupervisor(guard, worker, nil)
	ctx := context.Background()

	require.NoError(t, s.Activate(ctx))
	require.NoError(t, s.Activate(ctx))
	require.NoError(t, s.Activate(ctx))

	assert.Equal(t, int64(1), guard.Acquires())
	assert.Equal(t, int64(1), worker.attaches.Load())
	assert.Equal(t, int64(3), worker.kicks.Load())
}

func TestConcurrentActivateAcquiresOnce(t *testing.T) {
	guard := &testutil.CountingGuard{}
	worker := &fakeWorker{}
	log := &transitionLog{}
	s := newTestSupervisor(guard, worker, log)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, s.Activate(context.Background()))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), guard.Acquires())
	assert.Equal(t, []string{"Idle->Starting", "Starting->Running"}, log.get())
	assert.Equal(t, Running, s.CurrentState())
}

func TestDeactivateWhenIdleIsNoOp(t *testing.T) {
	guard := &testutil.CountingGuard{}
	log := &transitionLog{}
	s := newTestSupervisor(guard, &fakeWorker{}, log)

	require.NoError(t, s.Deactivate())
	require.NoError(t, s.Deactivate())
	assert.Empty(t, log.get())
	assert.Equal(t, int64(0), guard.Releases())
}

func TestActivateGuardFailureReturnsToIdle(t *testing.T) {
	boom := errors.New("wakelock denied")
	guard := &testutil.CountingGuard{FailAcquire: boom}
	worker := &fakeWorker{}
	s := newTestSupervisor(guard, worker, nil)

	err := s.Activate(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, s.CurrentState())
	assert.Equal(t, int64(0), worker.attaches.Load())
}

func TestActivateAttachFailureReleasesGuard(t *testing.T) {
	boom := errors.New("subscribe failed")
	guard := &testutil.CountingGuard{}
	s := newTestSupervisor(guard, &fakeWorker{attachErr: boom}, nil)

	err := s.Activate(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, s.CurrentState())
	assert.False(t, guard.Held())
	assert.Equal(t, int64(1), guard.Releases())
}

func TestActivateAttachPanicReleasesGuard(t *testing.T) {
	guard := &testutil.CountingGuard{}
	s := newTestSupervisor(guard, &fakeWorker{panicOn: true}, nil)

	assert.Panics(t, func() { _ = s.Activate(context.Background()) })
	assert.Equal(t, Idle, s.CurrentState())
	assert.False(t, guard.Held())

	// The gate was released by the unwinding panic.
	require.NoError(t, s.Deactivate())
}

func TestReactivateAfterDeactivate(t *testing.T) {
	guard := &testutil.CountingGuard{}
	worker := &fakeWorker{}
	s := newTestSupervisor(guard, worker, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Activate(ctx))
		require.NoError(t, s.Deactivate())
	}
	assert.Equal(t, int64(3), guard.Acquires())
	assert.Equal(t, int64(3), guard.Releases())
	assert.Equal(t, int64(3), worker.detaches.Load())
}
