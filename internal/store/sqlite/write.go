package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/autokit/internal/model"
)

// UpsertWorkflow inserts a workflow or replaces every field of an existing one.
// Uses ON CONFLICT(id) DO UPDATE so the row keeps its rowid (and list position).
func (s *Store) UpsertWorkflow(ctx context.Context, w model.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, definition, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			status = excluded.status
	`, w.ID, w.Name, w.Definition, string(w.Status))
	if err != nil {
		return model.NewPersistenceError("upsert workflow", err)
	}
	return nil
}

// DeleteWorkflow removes a workflow. Runs referencing it are kept.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id); err != nil {
		return model.NewPersistenceError("delete workflow", err)
	}
	return nil
}

// UpsertRun creates or merges a run inside one transaction.
//
// The existing row is read, merged via model.MergeRun, and written back
// before commit, so concurrent callers never interleave fields.
func (s *Store) UpsertRun(ctx context.Context, r model.Run) (string, error) {
	if r.ID == "" {
		r.ID = s.newID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", model.NewPersistenceError("upsert run: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := scanRun(tx.QueryRowContext(ctx, selectRunSQL+` WHERE id = ?`, r.ID))
	now := s.clock.Now()

	var next model.Run
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next, err = model.NewRun(r, now)
	case err != nil:
		return "", model.NewPersistenceError("upsert run: select existing", err)
	default:
		next, err = model.MergeRun(existing, r, now)
	}
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, started_at, ended_at, status, log)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			status = excluded.status,
			log = excluded.log
	`,
		next.ID,
		next.WorkflowID,
		next.StartedAt.UnixMilli(),
		nullableMillis(next),
		string(next.Status),
		next.Log,
	)
	if err != nil {
		return "", model.NewPersistenceError("upsert run: write", err)
	}

	if err := tx.Commit(); err != nil {
		return "", model.NewPersistenceError("upsert run: commit", err)
	}
	return next.ID, nil
}

// DeleteRun removes a run if present.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return model.NewPersistenceError("delete run", err)
	}
	return nil
}

func nullableMillis(r model.Run) sql.NullInt64 {
	if !r.Ended() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: r.EndedAt.UnixMilli(), Valid: true}
}
