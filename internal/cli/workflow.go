package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/autokit/internal/engine"
	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/source"
	"github.com/roach88/autokit/internal/store"
	"github.com/roach88/autokit/internal/trigger"
)

// WorkflowOptions holds flags for workflow upsert.
type WorkflowOptions struct {
	*RootOptions
	ID             string
	Name           string
	Definition     string
	DefinitionFile string
	Status         string
	Signals        string
}

// NewWorkflowCommand creates the workflow command group.
func NewWorkflowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage stored workflows",
	}
	cmd.AddCommand(newWorkflowUpsertCommand(rootOpts))
	cmd.AddCommand(newWorkflowListCommand(rootOpts))
	cmd.AddCommand(newWorkflowDeleteCommand(rootOpts))
	cmd.AddCommand(newWorkflowCountCommand(rootOpts))
	cmd.AddCommand(newWorkflowValidateCommand(rootOpts))
	return cmd
}

func newWorkflowUpsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace a workflow",
		Long: `Create or replace the workflow keyed by --id.

When the signal file given by --signals exists, a workflows-changed signal
is appended to it so an engine following that file rebuilds its rules.

The definition is an opaque JSON document. Its "trigger" object selects the
events that start the workflow:

  {"trigger": {"events": ["NotificationPosted"], "packages": ["com.example.chat"]}}

Example:
  autokit workflow upsert --id night --name "Night mode" \
    --definition '{"trigger": {"events": ["ScreenOff"]}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return upsertWorkflow(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "workflow id (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Definition, "definition", "", "definition JSON")
	cmd.Flags().StringVar(&opts.DefinitionFile, "definition-file", "", "read the definition from a file")
	cmd.Flags().StringVar(&opts.Status, "status", string(model.WorkflowEnabled), "ENABLED or DISABLED")
	cmd.Flags().StringVar(&opts.Signals, "signals", DefaultSignalsPath, "signal file of a running engine to notify")
	_ = cmd.MarkFlagRequired("id")
	cmd.MarkFlagsMutuallyExclusive("definition", "definition-file")

	return cmd
}

func upsertWorkflow(cmd *cobra.Command, opts *WorkflowOptions) error {
	formatter := opts.formatter(cmd)

	status, err := model.ParseWorkflowStatus(opts.Status)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid status", err)
	}
	def := opts.Definition
	if opts.DefinitionFile != "" {
		data, err := os.ReadFile(opts.DefinitionFile)
		if err != nil {
			_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read definition", err)
		}
		def = string(data)
	}
	name := opts.Name
	if name == "" {
		name = opts.ID
	}

	wf := model.Workflow{ID: opts.ID, Name: name, Definition: def, Status: status}
	if _, _, err := parseRule(wf); err != nil {
		// Stored anyway; the dispatcher skips it until fixed.
		fmt.Fprintf(formatter.GetErrWriter(), "warning: %v\n", err)
	}

	return opts.withStore(cmd, func(ctx context.Context, st store.Store) error {
		svc := engine.NewService(st, nil)
		if err := svc.UpsertWorkflow(ctx, wf.ID, wf.Name, wf.Definition, wf.Status); err != nil {
			return formatter.Fail(ExitFailure, "upsert workflow", err)
		}
		formatter.VerboseLog("workflow %s stored", wf.ID)
		notifyEngine(formatter, opts.RootOptions, opts.Signals)
		if formatter.Format == "json" {
			return formatter.Success(wf)
		}
		return formatter.Success(wf.ID)
	})
}

func newWorkflowListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				wfs, err := engine.NewService(st, nil).GetAllWorkflows(ctx)
				if err != nil {
					return formatter.Fail(ExitFailure, "list workflows", err)
				}
				sort.Slice(wfs, func(i, j int) bool { return wfs[i].ID < wfs[j].ID })

				rows := make([][]string, 0, len(wfs))
				for _, wf := range wfs {
					rows = append(rows, []string{wf.ID, wf.Name, string(wf.Status), triggerSummary(wf)})
				}
				return formatter.Rows(wfs, rows)
			})
		},
	}
}

// triggerSummary renders the events a workflow subscribes to.
func triggerSummary(wf model.Workflow) string {
	rule, ok, err := parseRule(wf)
	switch {
	case err != nil:
		return "invalid"
	case !ok:
		return "-"
	}
	kinds := make([]string, len(rule.Kinds))
	for i, k := range rule.Kinds {
		kinds[i] = string(k)
	}
	s := strings.Join(kinds, ",")
	if len(rule.Packages) > 0 {
		s += " packages=" + strings.Join(rule.Packages, ",")
	}
	return s
}

func newWorkflowDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var signals string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workflow (its runs are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				if err := engine.NewService(st, nil).DeleteWorkflow(ctx, args[0]); err != nil {
					return formatter.Fail(ExitFailure, "delete workflow", err)
				}
				notifyEngine(formatter, rootOpts, signals)
				return formatter.Success(args[0])
			})
		},
	}
	cmd.Flags().StringVar(&signals, "signals", DefaultSignalsPath, "signal file of a running engine to notify")
	return cmd
}

// notifyEngine appends a workflows-changed signal to path. A missing file
// means no engine follows it, so nothing is written.
func notifyEngine(formatter *OutputFormatter, opts *RootOptions, path string) {
	if path == "" || path == "-" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		formatter.VerboseLog("no signal file at %s, engine not notified", path)
		return
	}
	clock := opts.Clock
	if clock == nil {
		clock = model.SystemClock{}
	}
	raw := model.RawSignal{Action: source.ActionWorkflowsChanged, Timestamp: clock.Now().UTC()}
	if err := source.AppendSignal(path, raw); err != nil {
		fmt.Fprintf(formatter.GetErrWriter(), "warning: engine not notified: %v\n", err)
		return
	}
	formatter.VerboseLog("notified engine via %s", path)
}

func newWorkflowCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				n, err := engine.NewService(st, nil).GetWorkflowCount(ctx)
				if err != nil {
					return formatter.Fail(ExitFailure, "count workflows", err)
				}
				return formatter.Success(n)
			})
		},
	}
}

func newWorkflowValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition-file>",
		Short: "Check a definition's trigger without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to read definition", err)
			}
			wf := model.Workflow{ID: args[0], Definition: string(data), Status: model.WorkflowEnabled}
			rule, ok, err := parseRule(wf)
			if err != nil {
				_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
				return WrapExitError(ExitFailure, "invalid trigger", err)
			}
			if !ok {
				return formatter.Success("no trigger: workflow subscribes to no events")
			}
			if formatter.Format == "json" {
				return formatter.Success(rule)
			}
			return formatter.Success(fmt.Sprintf("valid: %s", triggerSummary(wf)))
		},
	}
}

func parseRule(wf model.Workflow) (trigger.Rule, bool, error) {
	if wf.Definition == "" {
		return trigger.Rule{}, false, nil
	}
	p, err := trigger.NewParser()
	if err != nil {
		return trigger.Rule{}, false, err
	}
	return p.Parse(wf)
}
