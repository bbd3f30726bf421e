// Package storetest is the conformance suite every Store backend runs.
//
// Usage from a backend's external test package:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T, clock model.Clock) store.Store {
//	        return memory.New(memory.WithClock(clock))
//	    })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store"
	"github.com/roach88/autokit/internal/testutil"
)

// Factory builds an empty store for one subtest. The store must stamp
// timestamps from clock.
type Factory func(t *testing.T, clock model.Clock) store.Store

// Epoch is the instant the suite's manual clock starts at.
var Epoch = time.UnixMilli(1_700_000_000_000)

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store, clock *testutil.ManualClock)
	}{
		{"UpsertWorkflow_FreshIDIncrementsCount", testUpsertWorkflowFresh},
		{"UpsertWorkflow_ExistingIDReplacesInPlace", testUpsertWorkflowReplace},
		{"UpsertWorkflow_RejectsInvalid", testUpsertWorkflowInvalid},
		{"DeleteWorkflow_MissingIsNoOp", testDeleteWorkflowMissing},
		{"DeleteWorkflow_KeepsRuns", testDeleteWorkflowKeepsRuns},
		{"GetWorkflow_NotFound", testGetWorkflowNotFound},
		{"UpsertRun_CreateWithEmptyID", testUpsertRunCreate},
		{"UpsertRun_CreateStampsZeroStart", testUpsertRunCreateZeroStart},
		{"UpsertRun_UpdatePreservesZeroStart", testUpsertRunMergeOnZero},
		{"UpsertRun_UnknownIDCreates", testUpsertRunUnknownID},
		{"UpsertRun_TerminalConflictRejected", testUpsertRunTerminalConflict},
		{"DeleteRun", testDeleteRun},
		{"GetRun_NotFound", testGetRunNotFound},
		{"ListRunsByStatus", testListRunsByStatus},
		{"Concurrent_DisjointRecords", testConcurrentDisjoint},
		{"Concurrent_SameRunIsAtomic", testConcurrentSameRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.NewManualClock(Epoch)
			s := newStore(t, clock)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s, clock)
		})
	}
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func testUpsertWorkflowFresh(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	before, err := s.GetWorkflowCount(ctx)
	require.NoError(t, err)

	wf := model.Workflow{ID: "wf-1", Name: "Workflow wf-1", Definition: `{"action": "test"}`, Status: model.WorkflowEnabled}
	require.NoError(t, s.UpsertWorkflow(ctx, wf))

	after, err := s.GetWorkflowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	all, err := s.GetAllWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, wf, all[0])

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, wf, got)
}

func testUpsertWorkflowReplace(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	require.NoError(t, s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Name: "old", Definition: "{}", Status: model.WorkflowEnabled}))
	require.NoError(t, s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-2", Name: "other", Definition: "{}", Status: model.WorkflowEnabled}))

	updated := model.Workflow{ID: "wf-1", Name: "new", Definition: `{"v":2}`, Status: model.WorkflowDisabled}
	require.NoError(t, s.UpsertWorkflow(ctx, updated))

	count, err := s.GetWorkflowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func testUpsertWorkflowInvalid(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	assert.Error(t, s.UpsertWorkflow(ctx, model.Workflow{Name: "no id", Status: model.WorkflowEnabled}))
	assert.Error(t, s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Status: "PAUSED"}))

	count, err := s.GetWorkflowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func testDeleteWorkflowMissing(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()
	require.NoError(t, s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Name: "a", Status: model.WorkflowEnabled}))

	require.NoError(t, s.DeleteWorkflow(ctx, "does-not-exist"))

	count, err := s.GetWorkflowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testDeleteWorkflowKeepsRuns(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()
	require.NoError(t, s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Name: "a", Status: model.WorkflowEnabled}))
	runID, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))

	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.True(t, model.IsNotFound(err))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", run.WorkflowID)
}

func testGetWorkflowNotFound(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	_, err := s.GetWorkflow(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func testUpsertRunCreate(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()
	start := Epoch.Add(-time.Minute)

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning, Log: "started", StartedAt: start})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	runs, err := s.GetAllRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "wf-1", r.WorkflowID)
	assert.Equal(t, model.RunRunning, r.Status)
	assert.Equal(t, "started", r.Log)
	assert.Equal(t, ms(start), ms(r.StartedAt))
	assert.False(t, r.Ended())

	count, err := s.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testUpsertRunCreateZeroStart(t *testing.T, s store.Store, clock *testutil.ManualClock) {
	ctx := context.Background()
	now := clock.Advance(3 * time.Second)

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ms(now), ms(r.StartedAt))
}

func testUpsertRunMergeOnZero(t *testing.T, s store.Store, clock *testutil.ManualClock) {
	ctx := context.Background()
	start := Epoch

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning, Log: "started", StartedAt: start})
	require.NoError(t, err)

	end := clock.Advance(2 * time.Second)
	clock.Advance(time.Minute)
	got, err := s.UpsertRun(ctx, model.Run{ID: id, WorkflowID: "wf-1", Status: model.RunSuccess, Log: "done", EndedAt: end})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ms(start), ms(r.StartedAt), "zero start must not erase the stored start")
	assert.Equal(t, ms(end), ms(r.EndedAt))
	assert.Equal(t, model.RunSuccess, r.Status)
	assert.Equal(t, "done", r.Log)

	count, err := s.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testUpsertRunUnknownID(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	id, err := s.UpsertRun(ctx, model.Run{ID: "chosen", WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)
	assert.Equal(t, "chosen", id)

	r, err := s.GetRun(ctx, "chosen")
	require.NoError(t, err)
	assert.Equal(t, ms(Epoch), ms(r.StartedAt))
}

func testUpsertRunTerminalConflict(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)
	_, err = s.UpsertRun(ctx, model.Run{ID: id, WorkflowID: "wf-1", Status: model.RunError, Log: "boom"})
	require.NoError(t, err)

	_, err = s.UpsertRun(ctx, model.Run{ID: id, WorkflowID: "wf-1", Status: model.RunSuccess, Log: "rewrite"})
	require.Error(t, err)
	assert.True(t, model.IsInvalidTransition(err))

	_, err = s.UpsertRun(ctx, model.Run{ID: id, WorkflowID: "wf-1", Status: model.RunRunning})
	assert.True(t, model.IsInvalidTransition(err))

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RunError, r.Status)
	assert.Equal(t, "boom", r.Log)
	assert.True(t, r.Ended())
}

func testDeleteRun(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)
	_, err = s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(ctx, "missing"))
	require.NoError(t, s.DeleteRun(ctx, id))

	count, err := s.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.GetRun(ctx, id)
	assert.True(t, model.IsNotFound(err))
}

func testGetRunNotFound(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func testListRunsByStatus(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()

	running, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning})
	require.NoError(t, err)
	_, err = s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunSuccess})
	require.NoError(t, err)

	got, err := s.ListRunsByStatus(ctx, model.RunRunning)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, running, got[0].ID)

	none, err := s.ListRunsByStatus(ctx, model.RunError)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// testConcurrentDisjoint drives N goroutines through create/complete on
// their own workflow and compares the final store to the serial model.
func testConcurrentDisjoint(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()
	const n = 32

	ids := make([]string, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wfID := fmt.Sprintf("wf-%02d", i)
			if err := s.UpsertWorkflow(ctx, model.Workflow{ID: wfID, Name: "name-" + wfID, Definition: "{}", Status: model.WorkflowEnabled}); err != nil {
				errs <- err
				return
			}
			start := Epoch.Add(time.Duration(i) * time.Second)
			id, err := s.UpsertRun(ctx, model.Run{WorkflowID: wfID, Status: model.RunRunning, Log: "started " + wfID, StartedAt: start})
			if err != nil {
				errs <- err
				return
			}
			ids[i] = id
			status := model.RunSuccess
			if i%2 == 1 {
				status = model.RunError
			}
			end := start.Add(500 * time.Millisecond)
			if _, err := s.UpsertRun(ctx, model.Run{ID: id, WorkflowID: wfID, Status: status, Log: "finished " + wfID, EndedAt: end}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	wfCount, err := s.GetWorkflowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, wfCount)

	runs, err := s.GetAllRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, n)

	byID := make(map[string]model.Run, n)
	for _, r := range runs {
		byID[r.ID] = r
	}
	require.Len(t, byID, n, "run identities must be unique")

	for i, id := range ids {
		wfID := fmt.Sprintf("wf-%02d", i)
		r, ok := byID[id]
		require.True(t, ok, "run %s missing", id)

		start := Epoch.Add(time.Duration(i) * time.Second)
		want := model.RunSuccess
		if i%2 == 1 {
			want = model.RunError
		}
		assert.Equal(t, wfID, r.WorkflowID)
		assert.Equal(t, want, r.Status)
		assert.Equal(t, "finished "+wfID, r.Log)
		assert.Equal(t, ms(start), ms(r.StartedAt))
		assert.Equal(t, ms(start.Add(500*time.Millisecond)), ms(r.EndedAt))
	}
}

// testConcurrentSameRun checks that racing writers to one record leave a
// record written entirely by one of them.
func testConcurrentSameRun(t *testing.T, s store.Store, _ *testutil.ManualClock) {
	ctx := context.Background()
	const writers = 8

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-0", Status: model.RunRunning, StartedAt: Epoch})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpsertRun(ctx, model.Run{
				ID:         id,
				WorkflowID: fmt.Sprintf("wf-%d", i),
				Status:     model.RunRunning,
				Log:        fmt.Sprintf("writer-%d", i),
				StartedAt:  Epoch.Add(time.Duration(i) * time.Second),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)

	var k int
	_, err = fmt.Sscanf(r.Log, "writer-%d", &k)
	require.NoError(t, err, "log %q was not written by any writer", r.Log)
	assert.Equal(t, fmt.Sprintf("wf-%d", k), r.WorkflowID)
	assert.Equal(t, ms(Epoch.Add(time.Duration(k)*time.Second)), ms(r.StartedAt))
}
