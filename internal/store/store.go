// Package store defines the workflow/run persistence contract shared by the
// sqlite, memory, and redis backends.
//
// Every backend guarantees:
//   - Per-record atomicity: no reader observes a half-written record
//   - Upsert identity: an existing id is replaced in place, a new id is created
//   - Merge-on-zero for runs: zero StartedAt/EndedAt on update leave the stored value
//   - Terminal runs never change status (see model.MergeRun)
//   - Backend failures surface as model PERSISTENCE errors
//   - Deleting a workflow leaves its runs untouched
package store

import (
	"context"

	"github.com/roach88/autokit/internal/model"
)

// Store is the persistent owner of workflows and run history.
type Store interface {
	// UpsertWorkflow creates or replaces the workflow keyed by w.ID.
	UpsertWorkflow(ctx context.Context, w model.Workflow) error

	// DeleteWorkflow removes a workflow. Missing ids are a no-op.
	DeleteWorkflow(ctx context.Context, id string) error

	// GetWorkflow returns a NOT_FOUND error for missing ids.
	GetWorkflow(ctx context.Context, id string) (model.Workflow, error)

	// GetAllWorkflows returns a snapshot. Order is not part of the contract.
	GetAllWorkflows(ctx context.Context) ([]model.Workflow, error)

	GetWorkflowCount(ctx context.Context) (int, error)

	// UpsertRun creates a run when r.ID is empty or unknown, otherwise merges
	// r into the stored record. Returns the run identity.
	UpsertRun(ctx context.Context, r model.Run) (string, error)

	// DeleteRun removes a run. Missing ids are a no-op.
	DeleteRun(ctx context.Context, id string) error

	// GetRun returns a NOT_FOUND error for missing ids.
	GetRun(ctx context.Context, id string) (model.Run, error)

	// GetAllRuns returns a snapshot. Order is not part of the contract.
	GetAllRuns(ctx context.Context) ([]model.Run, error)

	GetRunCount(ctx context.Context) (int, error)

	// ListRunsByStatus returns every run currently in status.
	ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error)

	Close() error
}
