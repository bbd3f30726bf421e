package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/autokit/internal/model"
)

// Executor runs a workflow's action graph for one event. The returned log
// is recorded on the run; a non-nil error finalizes it as Error.
type Executor interface {
	Execute(ctx context.Context, wf model.Workflow, ev model.Event) (log string, err error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, wf model.Workflow, ev model.Event) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, wf model.Workflow, ev model.Event) (string, error) {
	return f(ctx, wf, ev)
}

// ErrRequestedFailure is returned by EchoExecutor for definitions that set
// "fail": true.
var ErrRequestedFailure = errors.New("definition requested failure")

// EchoExecutor logs the definition and succeeds. It fails when the
// definition is a JSON object with "fail": true, which is how tests and
// dry runs exercise the error path.
type EchoExecutor struct {
	Logger *slog.Logger
}

func (e EchoExecutor) Execute(_ context.Context, wf model.Workflow, ev model.Event) (string, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("executing workflow", "workflow_id", wf.ID, "name", wf.Name, "event_kind", ev.Kind, "definition_bytes", len(wf.Definition))

	var flags struct {
		Fail bool `json:"fail"`
	}
	if err := json.Unmarshal([]byte(wf.Definition), &flags); err == nil && flags.Fail {
		return fmt.Sprintf("%s failed on %s", wf.Name, ev.Kind), ErrRequestedFailure
	}
	return fmt.Sprintf("%s executed on %s", wf.Name, ev.Kind), nil
}
