package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/autokit/internal/model"
)

// OrphanAnnotation is appended to the log of every reconciled run.
const OrphanAnnotation = "orphaned by restart"

// RunStore is the subset of store.Store reconciliation needs.
type RunStore interface {
	ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error)
	UpsertRun(ctx context.Context, r model.Run) (string, error)
}

// Reconcile transitions every Running run for which live reports false to
// Error, annotating its log. It returns how many runs were finalized. A
// failure on one run does not stop the others.
func Reconcile(ctx context.Context, runs RunStore, live func(runID string) bool, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	running, err := runs.ListRunsByStatus(ctx, model.RunRunning)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, r := range running {
		if live != nil && live(r.ID) {
			continue
		}
		update := model.Run{ID: r.ID, Status: model.RunError, Log: annotate(r.Log)}
		if _, err := runs.UpsertRun(ctx, update); err != nil {
			// A concurrent completion may have won; that run is no longer orphaned.
			if model.IsInvalidTransition(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("reconcile run %s: %w", r.ID, err))
			continue
		}
		n++
		logger.Warn("reconciled orphaned run", "run_id", r.ID, "workflow_id", r.WorkflowID)
	}
	return n, errors.Join(errs...)
}

func annotate(log string) string {
	if log == "" {
		return OrphanAnnotation
	}
	return log + "\n" + OrphanAnnotation
}
