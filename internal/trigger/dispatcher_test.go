package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
)

type fakeSource struct {
	mu        sync.Mutex
	workflows []model.Workflow
	err       error
	calls     atomic.Int64
	delay     time.Duration

	// When hold is set, the first read signals entered after taking its
	// snapshot and returns only once hold is closed.
	hold    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (f *fakeSource) GetAllWorkflows(context.Context) ([]model.Workflow, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	err := f.err
	snapshot := append([]model.Workflow(nil), f.workflows...)
	f.mu.Unlock()

	if f.hold != nil {
		f.once.Do(func() {
			close(f.entered)
			<-f.hold
		})
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (f *fakeSource) set(workflows ...model.Workflow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows = workflows
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func wf(id string, status model.WorkflowStatus, trigger string) model.Workflow {
	def := `{"steps": []}`
	if trigger != "" {
		def = fmt.Sprintf(`{"trigger": %s}`, trigger)
	}
	return model.Workflow{ID: id, Name: id, Definition: def, Status: status}
}

func newTestDispatcher(t *testing.T, src WorkflowSource) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(src, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return d
}

func TestOnEvent_MatchesByKindAndPackage(t *testing.T) {
	src := &fakeSource{}
	src.set(
		wf("screen", model.WorkflowEnabled, `{"events": ["ScreenOn"]}`),
		wf("chat", model.WorkflowEnabled, `{"events": ["NotificationPosted"], "packages": ["com.chat"]}`),
		wf("any-notif", model.WorkflowEnabled, `{"events": ["NotificationPosted", "NotificationRemoved"]}`),
		wf("disabled", model.WorkflowDisabled, `{"events": ["ScreenOn"]}`),
		wf("broken", model.WorkflowEnabled, `{"events": ["Nope"]}`),
		wf("silent", model.WorkflowEnabled, ""),
	)
	d := newTestDispatcher(t, src)
	ctx := context.Background()

	ids, err := d.OnEvent(ctx, model.Event{Kind: model.KindScreenOn})
	require.NoError(t, err)
	assert.Equal(t, []string{"screen"}, ids)

	ids, err = d.OnEvent(ctx, model.Event{Kind: model.KindNotificationPosted, SourcePackage: "com.chat"})
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"any-notif", "chat"}, ids)

	ids, err = d.OnEvent(ctx, model.Event{Kind: model.KindNotificationPosted, SourcePackage: "com.mail"})
	require.NoError(t, err)
	assert.Equal(t, []string{"any-notif"}, ids)

	ids, err = d.OnEvent(ctx, model.Event{Kind: model.KindBatteryChanged})
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.Len(t, d.Rules(), 3)
	assert.Equal(t, int64(1), src.calls.Load(), "index is built once, not per event")
}

func TestInvalidateRebuildsOnNextEvent(t *testing.T) {
	src := &fakeSource{}
	src.set(wf("w", model.WorkflowEnabled, `{"events": ["ScreenOn"]}`))
	d := newTestDispatcher(t, src)
	ctx := context.Background()

	ids, err := d.OnEvent(ctx, model.Event{Kind: model.KindScreenOn})
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, ids)

	src.set(wf("w", model.WorkflowDisabled, `{"events": ["ScreenOn"]}`))
	ids, err = d.OnEvent(ctx, model.Event{Kind: model.KindScreenOn})
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, ids, "no polling without invalidation")

	d.Invalidate()
	ids, err = d.OnEvent(ctx, model.Event{Kind: model.KindScreenOn})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestRefreshFailure(t *testing.T) {
	src := &fakeSource{}
	boom := errors.New("store offline")
	src.fail(boom)
	d := newTestDispatcher(t, src)
	ctx := context.Background()

	_, err := d.OnEvent(ctx, model.Event{Kind: model.KindScreenOn})
	assert.ErrorIs(t, err, boom, "no index yet")

	src.fail(nil)
	src.set(wf("w", model.WorkflowEnabled, `{"events": ["ScreenOn"]}`))
	require.NoError(t, d.Refresh(ctx))

	src.fail(boom)
	d.Invalidate()
	ids, err := d.OnEvent(ctx, model.Event{Kind: model.KindScreenOn})
	require.NoError(t, err)
	assert.Equal(t, []string{"w"}, ids, "previous index answers while the source is down")
}

func TestConcurrentOnEventCoalescesRefresh(t *testing.T) {
	src := &fakeSource{delay: 20 * time.Millisecond}
	src.set(wf("w", model.WorkflowEnabled, `{"events": ["PowerConnected"]}`))
	d := newTestDispatcher(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := d.OnEvent(context.Background(), model.Event{Kind: model.KindPowerConnected})
			assert.NoError(t, err)
			assert.Equal(t, []string{"w"}, ids)
		}()
	}
	wg.Wait()

	assert.Less(t, src.calls.Load(), int64(16))
}

func TestInvalidateDuringRebuildIsNotLost(t *testing.T) {
	src := &fakeSource{hold: make(chan struct{}), entered: make(chan struct{})}
	src.set(wf("old", model.WorkflowEnabled, `{"events": ["ScreenOn"]}`))
	d := newTestDispatcher(t, src)
	ev := model.Event{Kind: model.KindScreenOn}

	first := make(chan []string, 1)
	go func() {
		ids, err := d.OnEvent(context.Background(), ev)
		assert.NoError(t, err)
		first <- ids
	}()
	<-src.entered

	// The stalled rebuild holds the old snapshot.
	src.set(wf("new", model.WorkflowEnabled, `{"events": ["ScreenOn"]}`))
	d.Invalidate()

	second := make(chan []string, 1)
	go func() {
		ids, err := d.OnEvent(context.Background(), ev)
		assert.NoError(t, err)
		second <- ids
	}()
	select {
	case ids := <-second:
		assert.Equal(t, []string{"new"}, ids)
	case <-time.After(time.Second):
		close(src.hold)
		t.Fatal("second event waited on the outdated rebuild")
	}

	close(src.hold)
	<-first

	ids, err := d.OnEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids, "outdated rebuild does not overwrite")
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestRequests(t *testing.T) {
	src := &fakeSource{}
	src.set(
		wf("a", model.WorkflowEnabled, `{"events": ["ScreenOff"]}`),
		wf("b", model.WorkflowEnabled, `{"events": ["ScreenOff"]}`),
	)
	d := newTestDispatcher(t, src)
	ev := model.Event{ID: "ev-1", Kind: model.KindScreenOff}

	reqs, err := d.Requests(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, ev, r.Event)
		assert.Empty(t, r.RunID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, []string{reqs[0].WorkflowID, reqs[1].WorkflowID})
}
