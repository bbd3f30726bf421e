package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/testutil"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"workflows", "runs"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"busy_timeout": "5000",
		"user_version": strconv.Itoa(len(migrations)),
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_MigrationCreatesIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_runs_workflow_started'",
	).Scan(&name)
	require.NoError(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestOpen_ReopenDoesNotRemigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(len(migrations)), version)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	start := time.UnixMilli(1_700_000_000_000)

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Name: "Morning", Definition: `{"action":"test"}`, Status: model.WorkflowEnabled}))
	runID, err := s1.UpsertRun(ctx, model.Run{WorkflowID: "wf-1", Status: model.RunRunning, Log: "Task started...", StartedAt: start})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	wf, err := s2.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Morning", wf.Name)

	run, err := s2.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, run.Status)
	assert.Equal(t, start.UnixMilli(), run.StartedAt.UnixMilli())
	assert.False(t, run.Ended())
}

func TestRunningRunStoresNullEnd(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, WithClock(testutil.NewManualClock(time.UnixMilli(1000))))

	id, err := s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1"})
	require.NoError(t, err)

	var ended sql.NullInt64
	require.NoError(t, s.db.QueryRow("SELECT ended_at FROM runs WHERE id = ?", id).Scan(&ended))
	assert.False(t, ended.Valid)
}

func TestClosedStoreReturnsPersistenceError(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Close())

	err := s.UpsertWorkflow(ctx, model.Workflow{ID: "wf-1", Status: model.WorkflowEnabled})
	require.Error(t, err)
	assert.True(t, model.IsPersistence(err))

	_, err = s.UpsertRun(ctx, model.Run{WorkflowID: "wf-1"})
	assert.True(t, model.IsPersistence(err))

	_, err = s.GetAllRuns(ctx)
	assert.True(t, model.IsPersistence(err))
}
