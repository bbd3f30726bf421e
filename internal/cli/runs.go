package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autokit/internal/engine"
	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/store"
)

// RunsUpsertOptions holds flags for runs upsert.
type RunsUpsertOptions struct {
	*RootOptions
	ID         string
	WorkflowID string
	Status     string
	Log        string
	Start      string
	End        string
}

// NewRunsCommand creates the runs command group.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and edit run history",
	}
	cmd.AddCommand(newRunsUpsertCommand(rootOpts))
	cmd.AddCommand(newRunsListCommand(rootOpts))
	cmd.AddCommand(newRunsDeleteCommand(rootOpts))
	cmd.AddCommand(newRunsCountCommand(rootOpts))
	return cmd
}

func newRunsUpsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsUpsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a run",
		Long: `Create a run (empty --id) or update one in place.

Omitted --start and --end leave the stored timestamps unchanged. On create an
omitted --start is stamped with the current time. Timestamps are RFC 3339.

Example:
  autokit runs upsert --workflow night --status RUNNING
  autokit runs upsert --id 0b9c... --status SUCCESS --log "done"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return upsertRun(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "run id (empty creates a new run)")
	cmd.Flags().StringVar(&opts.WorkflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&opts.Status, "status", string(model.RunRunning), "RUNNING, SUCCESS or ERROR")
	cmd.Flags().StringVar(&opts.Log, "log", "", "run log")
	cmd.Flags().StringVar(&opts.Start, "start", "", "start time (RFC 3339)")
	cmd.Flags().StringVar(&opts.End, "end", "", "end time (RFC 3339)")

	return cmd
}

func upsertRun(cmd *cobra.Command, opts *RunsUpsertOptions) error {
	formatter := opts.formatter(cmd)

	status, err := model.ParseRunStatus(opts.Status)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid status", err)
	}
	start, err := parseTimeFlag("start", opts.Start)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid time", err)
	}
	end, err := parseTimeFlag("end", opts.End)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid time", err)
	}

	return opts.withStore(cmd, func(ctx context.Context, st store.Store) error {
		id, err := engine.NewService(st, nil).UpsertRun(ctx, opts.ID, opts.WorkflowID, status, opts.Log, start, end)
		if err != nil {
			return formatter.Fail(ExitFailure, "upsert run", err)
		}
		return formatter.Success(id)
	})
}

// parseTimeFlag returns the zero time for an empty value.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func newRunsListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			var filter model.RunStatus
			if status != "" {
				s, err := model.ParseRunStatus(status)
				if err != nil {
					_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
					return WrapExitError(ExitCommandError, "invalid status", err)
				}
				filter = s
			}

			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				var (
					runs []model.Run
					err  error
				)
				if filter != "" {
					runs, err = st.ListRunsByStatus(ctx, filter)
				} else {
					runs, err = engine.NewService(st, nil).GetAllRuns(ctx)
				}
				if err != nil {
					return formatter.Fail(ExitFailure, "list runs", err)
				}
				sortRuns(runs)
				return formatter.Rows(runs, runRows(runs))
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs in this status")
	return cmd
}

func sortRuns(runs []model.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

func runRows(runs []model.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		ended := "-"
		if r.Ended() {
			ended = r.EndedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			r.ID,
			r.WorkflowID,
			string(r.Status),
			r.StartedAt.UTC().Format(time.RFC3339),
			ended,
			r.Log,
		})
	}
	return rows
}

func newRunsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				if err := engine.NewService(st, nil).DeleteRun(ctx, args[0]); err != nil {
					return formatter.Fail(ExitFailure, "delete run", err)
				}
				return formatter.Success(args[0])
			})
		},
	}
}

func newRunsCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				n, err := engine.NewService(st, nil).GetRunCount(ctx)
				if err != nil {
					return formatter.Fail(ExitFailure, "count runs", err)
				}
				return formatter.Success(n)
			})
		},
	}
}
