package engine

import (
	"context"
	"time"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store"
)

// Invalidator is notified after workflow changes. *trigger.Dispatcher
// satisfies it.
type Invalidator interface {
	Invalidate()
}

// Service is the read/write surface offered to display layers. Workflow
// writes invalidate the trigger index.
type Service struct {
	store store.Store
	rules Invalidator
}

// NewService wraps st. rules may be nil when no dispatcher is running.
func NewService(st store.Store, rules Invalidator) *Service {
	return &Service{store: st, rules: rules}
}

func (s *Service) invalidate() {
	if s.rules != nil {
		s.rules.Invalidate()
	}
}

func (s *Service) GetAllWorkflows(ctx context.Context) ([]model.Workflow, error) {
	return s.store.GetAllWorkflows(ctx)
}

func (s *Service) GetWorkflowCount(ctx context.Context) (int, error) {
	return s.store.GetWorkflowCount(ctx)
}

func (s *Service) UpsertWorkflow(ctx context.Context, id, name, definition string, status model.WorkflowStatus) error {
	err := s.store.UpsertWorkflow(ctx, model.Workflow{ID: id, Name: name, Definition: definition, Status: status})
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.store.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) GetAllRuns(ctx context.Context) ([]model.Run, error) {
	return s.store.GetAllRuns(ctx)
}

func (s *Service) GetRunCount(ctx context.Context) (int, error) {
	return s.store.GetRunCount(ctx)
}

// UpsertRun creates a run when id is empty and updates it otherwise. A zero
// start or end leaves the stored value unchanged; on create a zero start is
// stamped now.
func (s *Service) UpsertRun(ctx context.Context, id, workflowID string, status model.RunStatus, log string, start, end time.Time) (string, error) {
	r := model.Run{
		ID:         id,
		WorkflowID: workflowID,
		Status:     status,
		Log:        log,
		StartedAt:  start,
		EndedAt:    end,
	}
	return s.store.UpsertRun(ctx, r)
}

func (s *Service) DeleteRun(ctx context.Context, id string) error {
	return s.store.DeleteRun(ctx, id)
}
