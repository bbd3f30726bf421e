package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/autokit/internal/config"
	"github.com/roach88/autokit/internal/store"
	"github.com/roach88/autokit/internal/supervisor"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var lockPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark runs left RUNNING by a dead engine as ERROR",
		Long: `Finalize runs orphaned by an engine that was killed before completing them.

Reconcile takes the engine lock first and refuses to run while an engine
holds it, since that engine's RUNNING runs are live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("lock") {
				cfg.Supervisor.LockPath = lockPath
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			guard := guardFor(cfg)
			if err := guard.Acquire(ctx); err != nil {
				if errors.Is(err, supervisor.ErrGuardBusy) {
					_ = formatter.Error(ErrCodeGuardBusy, "an engine is running; its runs are live", nil)
				}
				return WrapExitError(ExitFailure, "failed to acquire engine lock", err)
			}
			defer func() {
				if rerr := guard.Release(); rerr != nil {
					slog.Error("error releasing engine lock", "error", rerr)
				}
			}()

			return rootOpts.withStore(cmd, func(ctx context.Context, st store.Store) error {
				n, err := supervisor.Reconcile(ctx, st, nil, slog.Default())
				if err != nil {
					return formatter.Fail(ExitFailure, "reconcile", err)
				}
				return formatter.Success(n)
			})
		},
	}

	cmd.Flags().StringVar(&lockPath, "lock", "", "engine lock file (overrides supervisor.lock_path; empty disables)")
	return cmd
}

func guardFor(cfg config.Config) supervisor.Guard {
	if cfg.Supervisor.LockPath == "" {
		return supervisor.NopGuard{}
	}
	return supervisor.NewLockFileGuard(cfg.Supervisor.LockPath)
}
