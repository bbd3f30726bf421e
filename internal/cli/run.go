package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/autokit/internal/backoff"
	"github.com/roach88/autokit/internal/bus"
	"github.com/roach88/autokit/internal/engine"
	"github.com/roach88/autokit/internal/metrics"
	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/source"
	"github.com/roach88/autokit/internal/supervisor"
	"github.com/roach88/autokit/internal/trigger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Signals      string
	Follow       bool
	PollInterval time.Duration
	LockPath     string
	MetricsAddr  string
	DrainTimeout time.Duration

	// Executor overrides the workflow executor (for testing).
	Executor engine.Executor
}

// RunSummary is printed when the engine stops.
type RunSummary struct {
	Signals    int64 `json:"signals"`
	Published  int64 `json:"published"`
	Reconciled int   `json:"reconciled"`
	Unfinished int   `json:"unfinished"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("signals=%d published=%d reconciled=%d unfinished=%d",
		s.Signals, s.Published, s.Reconciled, s.Unfinished)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and process signals",
		Long: `Start the autokit engine.

The engine takes the lock file, reconciles runs orphaned by a previous
process, and then feeds every raw signal from the signal file through the
trigger dispatcher. Each matching workflow gets its own run.

Without --follow the engine stops at the end of the signal file and waits
for started runs to finish. With --follow it keeps polling for appended
signals until interrupted. Use "-" to read signals from stdin.

Example:
  autokit run --db ./autokit.db --signals ./autokit.signals --follow
  autokit emit ScreenOn | autokit run --store memory --signals -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Signals, "signals", DefaultSignalsPath, `signal file ("-" for stdin)`)
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "keep reading appended signals until interrupted")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", 200*time.Millisecond, "poll interval with --follow")
	cmd.Flags().StringVar(&opts.LockPath, "lock", "", "engine lock file (overrides supervisor.lock_path; empty disables)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.DrainTimeout, "drain-timeout", 10*time.Second, "how long to wait for in-flight runs on exit")

	return cmd
}

func runEngine(cmd *cobra.Command, opts *RunOptions) error {
	formatter := opts.formatter(cmd)
	if opts.Follow && opts.Signals == "-" {
		return NewExitError(ExitCommandError, "--follow cannot read from stdin")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("lock") {
		cfg.Supervisor.LockPath = opts.LockPath
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}

	logger := cfg.Logging.NewLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	reg, m, err := metrics.NewRegistry()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("opening store", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	st, err := opts.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	b := bus.New(cfg.Bus.Buffer)
	defer b.Close()

	dispatcher, err := trigger.NewDispatcher(st, trigger.WithLogger(logger), trigger.WithMetrics(m))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build dispatcher", err)
	}
	orch := engine.NewOrchestrator(st,
		engine.WithRetry(cfg.Orchestrator.MaxAttempts, backoff.ExponentialWithJitter{
			Initial: cfg.Orchestrator.InitialBackoff,
			Max:     cfg.Orchestrator.MaxBackoff,
		}),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	)
	pipelineOpts := []engine.PipelineOption{engine.WithPipelineLogger(logger)}
	if opts.Executor != nil {
		pipelineOpts = append(pipelineOpts, engine.WithExecutor(opts.Executor))
	}
	pipeline := engine.NewPipeline(b, dispatcher, orch, st, pipelineOpts...)
	sup := supervisor.New(guardFor(cfg), pipeline, supervisor.WithLogger(logger), supervisor.WithMetrics(m))
	adapter := source.NewAdapter(b, source.WithLogger(logger), source.WithMetrics(m))

	// Process start activates; reconciliation runs once the lock is ours.
	if err := sup.Activate(ctx); err != nil {
		if errors.Is(err, supervisor.ErrGuardBusy) {
			_ = formatter.Error(ErrCodeGuardBusy, "another engine holds the lock", nil)
		}
		return WrapExitError(ExitFailure, "failed to start engine", err)
	}
	summary := RunSummary{}
	defer func() {
		if derr := sup.Deactivate(); derr != nil {
			logger.Error("error stopping engine", "error", derr)
		}
	}()

	summary.Reconciled, err = sup.Reconcile(ctx, st)
	if err != nil {
		logger.Error("reconciliation incomplete", "error", err)
	}

	// A failed build is retried by the first event.
	if err := dispatcher.Refresh(ctx); err != nil {
		logger.Error("initial trigger rules not built", "error", err)
	}
	for _, rule := range dispatcher.Rules() {
		logger.Info("trigger rule", "workflow_id", rule.WorkflowID, "kinds", rule.Kinds, "packages", rule.Packages)
	}

	var signals, published atomic.Int64
	handle := func(ctx context.Context, raw model.RawSignal) error {
		if raw.Action == source.ActionWorkflowsChanged {
			logger.Info("workflows changed, rebuilding trigger rules")
			dispatcher.Invalidate()
			return nil
		}
		signals.Add(1)
		// Activation per signal restarts a context the host tore down.
		if err := sup.Activate(ctx); err != nil {
			return err
		}
		ok, err := adapter.Handle(ctx, raw)
		if ok {
			published.Add(1)
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	if cfg.Metrics.Addr != "" {
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
		g.Go(func() error {
			return metrics.Serve(serveCtx, cfg.Metrics.Addr, reg)
		})
	}
	g.Go(func() error {
		defer stopServe()
		return readSignals(gctx, opts, cmd.InOrStdin(), logger, handle)
	})

	logger.Info("engine started", "signals", opts.Signals, "follow", opts.Follow)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	if derr := sup.Deactivate(); derr != nil {
		logger.Error("error stopping engine", "error", derr)
	}
	pipeline.Close()
	if !waitTimeout(pipeline.Wait, opts.DrainTimeout) {
		logger.Warn("runs still in flight at exit; they will be reconciled on next start")
	}
	summary.Signals = signals.Load()
	summary.Published = published.Load()
	summary.Unfinished = pipeline.Pending()

	logger.Info("engine stopped", "signals", summary.Signals, "published", summary.Published)
	if formatter.Format == "json" {
		return formatter.Success(summary)
	}
	return formatter.Success(summary.String())
}

func readSignals(ctx context.Context, opts *RunOptions, stdin io.Reader, logger *slog.Logger, fn source.SignalFunc) error {
	switch {
	case opts.Signals == "-":
		return source.ReadSignals(ctx, stdin, logger, fn)
	case opts.Follow:
		return source.FollowSignals(ctx, opts.Signals, opts.PollInterval, logger, fn)
	}

	f, err := os.Open(opts.Signals)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no signal file", "path", opts.Signals)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open signals: %w", err)
	}
	defer f.Close()
	return source.ReadSignals(ctx, f, logger, fn)
}

// waitTimeout reports whether wait returned within d.
func waitTimeout(wait func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
