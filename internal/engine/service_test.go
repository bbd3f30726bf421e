package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store/memory"
	"github.com/roach88/autokit/internal/testutil"
)

type countingInvalidator struct{ n atomic.Int64 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

func TestService_WorkflowWritesInvalidate(t *testing.T) {
	ctx := context.Background()
	inv := &countingInvalidator{}
	svc := NewService(memory.New(), inv)

	require.NoError(t, svc.UpsertWorkflow(ctx, "wf-1", "One", "{}", model.WorkflowEnabled))
	require.NoError(t, svc.UpsertWorkflow(ctx, "wf-1", "Uno", "{}", model.WorkflowDisabled))
	require.NoError(t, svc.DeleteWorkflow(ctx, "missing"))
	assert.Equal(t, int64(3), inv.n.Load())

	err := svc.UpsertWorkflow(ctx, "", "bad", "{}", model.WorkflowEnabled)
	assert.Error(t, err)
	assert.Equal(t, int64(3), inv.n.Load(), "rejected writes do not invalidate")

	count, err := svc.GetWorkflowCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := svc.GetAllWorkflows(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Uno", all[0].Name)
}

func TestService_NilInvalidator(t *testing.T) {
	svc := NewService(memory.New(), nil)
	require.NoError(t, svc.UpsertWorkflow(context.Background(), "wf", "n", "", model.WorkflowEnabled))
}

func TestService_UpsertRunMergeOnZero(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewManualClock(epoch)
	svc := NewService(memory.New(memory.WithClock(clock)), nil)

	startedAt := epoch.Add(-time.Hour)
	id, err := svc.UpsertRun(ctx, "", "wf", model.RunRunning, "started", startedAt, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	runs, err := svc.GetAllRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, startedAt.UnixMilli(), runs[0].StartedAt.UnixMilli())
	assert.False(t, runs[0].Ended())

	endedAt := epoch.Add(time.Minute)
	got, err := svc.UpsertRun(ctx, id, "wf", model.RunSuccess, "done", time.Time{}, endedAt)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	runs, err = svc.GetAllRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, startedAt.UnixMilli(), runs[0].StartedAt.UnixMilli())
	assert.Equal(t, endedAt.UnixMilli(), runs[0].EndedAt.UnixMilli())
	assert.Equal(t, model.RunSuccess, runs[0].Status)

	count, err := svc.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.DeleteRun(ctx, id))
	count, err = svc.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
