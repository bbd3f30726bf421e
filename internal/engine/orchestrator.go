package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/autokit/internal/backoff"
	"github.com/roach88/autokit/internal/metrics"
	"github.com/roach88/autokit/internal/model"
)

// Defaults for persistence retries.
const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 50 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// RunStore is the subset of store.Store the orchestrator writes through.
type RunStore interface {
	GetRun(ctx context.Context, id string) (model.Run, error)
	UpsertRun(ctx context.Context, r model.Run) (string, error)
}

// Orchestrator translates execution requests into run lifecycles.
// Safe for concurrent use; calls for different runs never wait on each
// other beyond what the store imposes.
type Orchestrator struct {
	runs        RunStore
	clock       model.Clock
	newID       func() string
	strategy    backoff.Strategy
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithClock(c model.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

func WithRunIDGenerator(gen func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithRetry sets the persistence retry policy. maxAttempts counts the
// first call.
func WithRetry(maxAttempts int, s backoff.Strategy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxAttempts = maxAttempts
		o.strategy = s
	}
}

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator writing to runs.
func NewOrchestrator(runs RunStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runs:        runs,
		clock:       model.SystemClock{},
		newID:       model.NewID,
		strategy:    backoff.ExponentialWithJitter{Initial: DefaultInitialBackoff, Max: DefaultMaxBackoff},
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// retry runs fn under the persistence retry policy.
func (o *Orchestrator) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.Retry(ctx, o.maxAttempts, o.strategy, model.IsPersistence, func() error {
		attempt++
		if attempt > 1 {
			o.metrics.PersistRetry()
			o.logger.Debug("retrying store write", "op", op, "attempt", attempt)
		}
		return fn()
	})
}

// Start creates a Running run for req and returns its id. The id is fixed
// before the first write, so a retried create lands on the same record.
func (o *Orchestrator) Start(ctx context.Context, req model.ExecutionRequest) (string, error) {
	if req.WorkflowID == "" {
		return "", fmt.Errorf("start run: workflow id is required")
	}

	runID := req.RunID
	if runID == "" {
		runID = o.newID()
	}
	run := model.Run{
		ID:         runID,
		WorkflowID: req.WorkflowID,
		StartedAt:  o.clock.Now(),
		Status:     model.RunRunning,
		Log:        startLog(req.Event),
	}

	err := o.retry(ctx, "start run", func() error {
		_, err := o.runs.UpsertRun(ctx, run)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run for workflow %s: %w", req.WorkflowID, err)
	}

	o.metrics.RunStarted()
	o.logger.Info("run started", "run_id", runID, "workflow_id", req.WorkflowID, "event_kind", req.Event.Kind)
	return runID, nil
}

func startLog(ev model.Event) string {
	if ev.Kind == "" {
		return "started"
	}
	if ev.SourcePackage != "" {
		return fmt.Sprintf("triggered by %s from %s", ev.Kind, ev.SourcePackage)
	}
	return fmt.Sprintf("triggered by %s", ev.Kind)
}

// Complete moves runID to outcome. Completing again with the same outcome
// is a no-op; a different outcome after a terminal status, or a
// non-terminal outcome, is an InvalidTransition error. An empty log keeps
// the run's current log.
//
// The end timestamp is left for the store to stamp, so of two racing
// completions with the same outcome the first end time sticks.
func (o *Orchestrator) Complete(ctx context.Context, runID string, outcome model.RunStatus, log string) error {
	if !outcome.Terminal() {
		return model.NewInvalidTransitionError(runID, model.RunRunning, outcome)
	}

	var existing model.Run
	err := o.retry(ctx, "get run", func() error {
		var err error
		existing, err = o.runs.GetRun(ctx, runID)
		return err
	})
	if err != nil {
		return err
	}

	if existing.Status.Terminal() {
		if existing.Status == outcome {
			o.logger.Debug("run already completed", "run_id", runID, "status", outcome)
			return nil
		}
		return model.NewInvalidTransitionError(runID, existing.Status, outcome)
	}

	update := model.Run{ID: runID, Status: outcome, Log: log}
	if log == "" {
		update.Log = existing.Log
	}

	err = o.retry(ctx, "complete run", func() error {
		_, err := o.runs.UpsertRun(ctx, update)
		return err
	})
	if err != nil {
		o.logger.Error("run left running", "run_id", runID, "error", err)
		return fmt.Errorf("complete run %s: %w", runID, err)
	}

	o.metrics.RunCompleted(string(outcome), o.clock.Now().Sub(existing.StartedAt))
	o.logger.Info("run completed", "run_id", runID, "workflow_id", existing.WorkflowID, "status", outcome)
	return nil
}
