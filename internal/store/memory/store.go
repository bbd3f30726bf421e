// Package memory provides an in-process Store with per-record locking.
//
// Map structure is guarded by a short-lived RWMutex; read-modify-write of a
// single record additionally holds that record's lock, so mutations to
// different records never wait on each other beyond the map access itself.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/autokit/internal/model"
)

type workflowEntry struct {
	seq int64
	wf  model.Workflow
}

type runEntry struct {
	seq int64
	run model.Run
}

// Store is an in-memory workflow/run store. Safe for concurrent use.
type Store struct {
	clock model.Clock
	newID func() string

	mu        sync.RWMutex
	seq       int64
	workflows map[string]workflowEntry
	runs      map[string]runEntry

	locks *keyLocks
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp run timestamps.
func WithClock(c model.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides run identity generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:     model.SystemClock{},
		newID:     model.NewID,
		workflows: make(map[string]workflowEntry),
		runs:      make(map[string]runEntry),
		locks:     newKeyLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// UpsertWorkflow creates or replaces a workflow.
func (s *Store) UpsertWorkflow(ctx context.Context, w model.Workflow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.workflows[w.ID]
	if !ok {
		s.seq++
		entry.seq = s.seq
	}
	entry.wf = w
	s.workflows[w.ID] = entry
	return nil
}

// DeleteWorkflow removes a workflow if present.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

// GetWorkflow returns a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (model.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return model.Workflow{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.workflows[id]
	if !ok {
		return model.Workflow{}, model.NewNotFoundError("workflow", id)
	}
	return entry.wf, nil
}

// GetAllWorkflows returns workflows in first-insertion order.
func (s *Store) GetAllWorkflows(ctx context.Context) ([]model.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]workflowEntry, 0, len(s.workflows))
	for _, e := range s.workflows {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.Workflow, len(entries))
	for i, e := range entries {
		out[i] = e.wf
	}
	return out, nil
}

// GetWorkflowCount returns the number of workflows.
func (s *Store) GetWorkflowCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows), nil
}

// UpsertRun creates or merges a run under that run's lock.
func (s *Store) UpsertRun(ctx context.Context, r model.Run) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.ID == "" {
		r.ID = s.newID()
	}

	unlock := s.locks.lock(r.ID)
	defer unlock()

	s.mu.RLock()
	existing, ok := s.runs[r.ID]
	s.mu.RUnlock()

	now := s.clock.Now()
	var (
		next model.Run
		err  error
	)
	if ok {
		next, err = model.MergeRun(existing.run, r, now)
	} else {
		next, err = model.NewRun(r, now)
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := existing
	if !ok {
		s.seq++
		entry.seq = s.seq
	}
	entry.run = next
	s.runs[next.ID] = entry
	return next.ID, nil
}

// DeleteRun removes a run if present.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	if err := ctx.Err(); err != nil {
		return model.Run{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[id]
	if !ok {
		return model.Run{}, model.NewNotFoundError("run", id)
	}
	return entry.run, nil
}

// GetAllRuns returns runs in creation order.
func (s *Store) GetAllRuns(ctx context.Context) ([]model.Run, error) {
	return s.listRuns(ctx, func(model.Run) bool { return true })
}

// GetRunCount returns the number of runs.
func (s *Store) GetRunCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs), nil
}

// ListRunsByStatus returns runs in status, in creation order.
func (s *Store) ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	return s.listRuns(ctx, func(r model.Run) bool { return r.Status == status })
}

func (s *Store) listRuns(ctx context.Context, keep func(model.Run) bool) ([]model.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]runEntry, 0, len(s.runs))
	for _, e := range s.runs {
		if keep(e.run) {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.Run, len(entries))
	for i, e := range entries {
		out[i] = e.run
	}
	return out, nil
}
