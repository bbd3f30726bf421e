package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0  = time.UnixMilli(1_700_000_000_000)
	t1  = time.UnixMilli(1_700_000_005_000)
	now = time.UnixMilli(1_700_000_009_000)
)

func TestNewRun_GeneratesIDAndStampsStart(t *testing.T) {
	r, err := NewRun(Run{WorkflowID: "wf-1", Log: "started"}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, RunRunning, r.Status)
	assert.Equal(t, now.UnixMilli(), r.StartedAt.UnixMilli())
	assert.False(t, r.Ended())
}

func TestNewRun_KeepsSuppliedStart(t *testing.T) {
	r, err := NewRun(Run{WorkflowID: "wf-1", Status: RunRunning, StartedAt: t0}, now)
	require.NoError(t, err)
	assert.Equal(t, t0.UnixMilli(), r.StartedAt.UnixMilli())
}

func TestNewRun_RunningDropsEnd(t *testing.T) {
	r, err := NewRun(Run{WorkflowID: "wf-1", Status: RunRunning, EndedAt: t1}, now)
	require.NoError(t, err)
	assert.False(t, r.Ended())
}

func TestNewRun_TerminalStampsEnd(t *testing.T) {
	r, err := NewRun(Run{WorkflowID: "wf-1", Status: RunSuccess}, now)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), r.EndedAt.UnixMilli())
}

func TestRunTimesHaveMillisecondPrecision(t *testing.T) {
	fine := t0.Add(123456 * time.Nanosecond)
	later := now.Add(999999 * time.Nanosecond)

	r, err := NewRun(Run{WorkflowID: "wf-1", StartedAt: fine}, later)
	require.NoError(t, err)
	assert.Equal(t, t0, r.StartedAt)

	r, err = MergeRun(r, Run{Status: RunSuccess}, later)
	require.NoError(t, err)
	assert.Equal(t, t0, r.StartedAt)
	assert.Equal(t, now, r.EndedAt)

	r, err = NewRun(Run{WorkflowID: "wf-1", Status: RunError, EndedAt: later}, later)
	require.NoError(t, err)
	assert.Equal(t, now, r.StartedAt)
	assert.Equal(t, now, r.EndedAt)
}

func TestNewRun_RejectsUnknownStatus(t *testing.T) {
	_, err := NewRun(Run{WorkflowID: "wf-1", Status: "PAUSED"}, now)
	require.Error(t, err)
}

func TestMergeRun_ZeroStartIsNoOp(t *testing.T) {
	existing := Run{ID: "r1", WorkflowID: "wf-1", StartedAt: t0, Status: RunRunning, Log: "started"}

	merged, err := MergeRun(existing, Run{ID: "r1", WorkflowID: "wf-1", Status: RunSuccess, Log: "done", EndedAt: t1}, now)
	require.NoError(t, err)

	assert.Equal(t, t0.UnixMilli(), merged.StartedAt.UnixMilli())
	assert.Equal(t, t1.UnixMilli(), merged.EndedAt.UnixMilli())
	assert.Equal(t, RunSuccess, merged.Status)
	assert.Equal(t, "done", merged.Log)
}

func TestMergeRun_NonZeroStartOverwrites(t *testing.T) {
	existing := Run{ID: "r1", WorkflowID: "wf-1", StartedAt: t0, Status: RunRunning}

	merged, err := MergeRun(existing, Run{ID: "r1", WorkflowID: "wf-1", Status: RunRunning, StartedAt: t1}, now)
	require.NoError(t, err)
	assert.Equal(t, t1.UnixMilli(), merged.StartedAt.UnixMilli())
}

func TestMergeRun_ZeroEndKeepsExistingEnd(t *testing.T) {
	existing := Run{ID: "r1", WorkflowID: "wf-1", StartedAt: t0, EndedAt: t1, Status: RunError, Log: "boom"}

	merged, err := MergeRun(existing, Run{ID: "r1", WorkflowID: "wf-1", Status: RunError, Log: "boom, annotated"}, now)
	require.NoError(t, err)
	assert.Equal(t, t1.UnixMilli(), merged.EndedAt.UnixMilli())
	assert.Equal(t, "boom, annotated", merged.Log)
}

func TestMergeRun_TerminalStampsEndWhenMissing(t *testing.T) {
	existing := Run{ID: "r1", WorkflowID: "wf-1", StartedAt: t0, Status: RunRunning}

	merged, err := MergeRun(existing, Run{ID: "r1", Status: RunError}, now)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), merged.EndedAt.UnixMilli())
	assert.Equal(t, "wf-1", merged.WorkflowID, "empty workflow id keeps the existing reference")
}

func TestMergeRun_TerminalTransitions(t *testing.T) {
	tests := []struct {
		from, to RunStatus
		wantErr  bool
	}{
		{RunSuccess, RunSuccess, false},
		{RunError, RunError, false},
		{RunSuccess, RunError, true},
		{RunError, RunSuccess, true},
		{RunSuccess, RunRunning, true},
		{RunError, RunRunning, true},
		{RunRunning, RunRunning, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			existing := Run{ID: "r1", WorkflowID: "wf-1", StartedAt: t0, Status: tt.from}
			if tt.from.Terminal() {
				existing.EndedAt = t1
			}
			_, err := MergeRun(existing, Run{ID: "r1", WorkflowID: "wf-1", Status: tt.to}, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsInvalidTransition(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseRunStatus(t *testing.T) {
	s, err := ParseRunStatus("SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, s)
	assert.True(t, s.Terminal())

	_, err = ParseRunStatus("success")
	assert.Error(t, err)
}
