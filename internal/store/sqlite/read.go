package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/autokit/internal/model"
)

const selectRunSQL = `SELECT id, workflow_id, started_at, ended_at, status, log FROM runs`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetWorkflow returns a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (model.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, definition, status FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Workflow{}, model.NewNotFoundError("workflow", id)
	}
	if err != nil {
		return model.Workflow{}, model.NewPersistenceError("get workflow", err)
	}
	return w, nil
}

// GetAllWorkflows returns workflows in first-insertion order.
// Returns an empty slice (not nil) if there are none.
func (s *Store) GetAllWorkflows(ctx context.Context) ([]model.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, definition, status FROM workflows ORDER BY rowid ASC`)
	if err != nil {
		return nil, model.NewPersistenceError("query workflows", err)
	}
	defer rows.Close()

	workflows := []model.Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, model.NewPersistenceError("scan workflow", err)
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewPersistenceError("iterate workflows", err)
	}
	return workflows, nil
}

// GetWorkflowCount returns the number of workflows.
func (s *Store) GetWorkflowCount(ctx context.Context) (int, error) {
	return s.count(ctx, "workflows")
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRunSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, model.NewNotFoundError("run", id)
	}
	if err != nil {
		return model.Run{}, model.NewPersistenceError("get run", err)
	}
	return r, nil
}

// GetAllRuns returns runs ordered by start time, then id.
func (s *Store) GetAllRuns(ctx context.Context) ([]model.Run, error) {
	return s.queryRuns(ctx, selectRunSQL+` ORDER BY started_at ASC, id ASC`)
}

// GetRunCount returns the number of runs.
func (s *Store) GetRunCount(ctx context.Context) (int, error) {
	return s.count(ctx, "runs")
}

// ListRunsByStatus returns runs in status ordered by start time, then id.
func (s *Store) ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	return s.queryRuns(ctx, selectRunSQL+` WHERE status = ? ORDER BY started_at ASC, id ASC`, string(status))
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewPersistenceError("query runs", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, model.NewPersistenceError("scan run", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewPersistenceError("iterate runs", err)
	}
	return runs, nil
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, model.NewPersistenceError("count "+table, err)
	}
	return n, nil
}

func scanWorkflow(row rowScanner) (model.Workflow, error) {
	var (
		w      model.Workflow
		status string
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Definition, &status); err != nil {
		return model.Workflow{}, err
	}
	w.Status = model.WorkflowStatus(status)
	return w, nil
}

func scanRun(row rowScanner) (model.Run, error) {
	var (
		r       model.Run
		started int64
		ended   sql.NullInt64
		status  string
	)
	if err := row.Scan(&r.ID, &r.WorkflowID, &started, &ended, &status, &r.Log); err != nil {
		return model.Run{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		r.EndedAt = time.UnixMilli(ended.Int64)
	}
	r.Status = model.RunStatus(status)
	return r, nil
}
