// Package supervisor owns the single live execution context.
//
// The supervisor moves through Idle -> Starting -> Running -> Stopping ->
// Idle. All transitions happen under one gate, so the exclusive guard is
// never acquired twice.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/autokit/internal/metrics"
)

// State is a lifecycle state.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

// States lists every state in lifecycle order.
var States = []State{Idle, Starting, Running, Stopping}

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Guard is the exclusive resource that marks the engine alive.
type Guard interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Worker is the execution context the supervisor starts and stops.
type Worker interface {
	// Attach subscribes to events and begins processing. The returned
	// detach stops intake; it must not cancel in-flight runs.
	Attach(ctx context.Context) (detach func(), err error)
	// Kick forwards any queued execution requests.
	Kick()
}

// LiveChecker is implemented by workers that can tell whether a run still
// has an execution attached.
type LiveChecker interface {
	IsLive(runID string) bool
}

// Supervisor serializes activation of one Worker behind one Guard.
type Supervisor struct {
	guard   Guard
	worker  Worker
	logger  *slog.Logger
	metrics *metrics.Metrics
	hook    func(from, to State)

	gate   sync.Mutex
	state  atomic.Int32
	detach func()
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// WithTransitionHook registers fn to observe every state change. fn runs
// under the gate and must not call back into the supervisor.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(s *Supervisor) { s.hook = fn }
}

// New creates an Idle supervisor.
func New(guard Guard, worker Worker, opts ...Option) *Supervisor {
	s := &Supervisor{
		guard:  guard,
		worker: worker,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SupervisorState(Idle.String(), stateNames())
	return s
}

// CurrentState returns the state without waiting on the gate.
func (s *Supervisor) CurrentState() State {
	return State(s.state.Load())
}

func (s *Supervisor) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	s.logger.Debug("supervisor transition", "from", from, "to", to)
	s.metrics.SupervisorState(to.String(), stateNames())
	if s.hook != nil {
		s.hook(from, to)
	}
}

// Activate ensures the execution context is running. When it already is,
// Activate only kicks the worker. A failed start leaves the supervisor Idle
// with the guard released.
func (s *Supervisor) Activate(ctx context.Context) (err error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if s.CurrentState() == Running {
		s.worker.Kick()
		return nil
	}

	s.transition(Starting)
	if err := s.guard.Acquire(ctx); err != nil {
		s.transition(Idle)
		return fmt.Errorf("acquire guard: %w", err)
	}
	s.metrics.GuardAcquired()

	releaseOnFailure := true
	defer func() {
		if !releaseOnFailure {
			return
		}
		p := recover()
		if rerr := s.guard.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release guard: %w", rerr))
		}
		s.transition(Idle)
		if p != nil {
			panic(p)
		}
	}()

	detach, err := s.worker.Attach(ctx)
	if err != nil {
		return fmt.Errorf("attach worker: %w", err)
	}
	releaseOnFailure = false

	s.detach = detach
	s.transition(Running)
	s.logger.Info("execution context started")
	s.worker.Kick()
	return nil
}

// Deactivate stops intake and releases the guard. In-flight runs continue.
// Safe to call when Idle. The guard is released and the state returns to
// Idle on every path, including a panicking detach.
func (s *Supervisor) Deactivate() (err error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if s.CurrentState() == Idle {
		return nil
	}

	s.transition(Stopping)
	defer func() {
		if rerr := s.guard.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release guard: %w", rerr))
		}
		s.transition(Idle)
		s.logger.Info("execution context stopped")
	}()

	if detach := s.detach; detach != nil {
		s.detach = nil
		detach()
	}
	return nil
}

// Reconcile marks runs left Running by a previous process as Error. Runs
// the worker reports live are left alone.
func (s *Supervisor) Reconcile(ctx context.Context, runs RunStore) (int, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	live := func(string) bool { return false }
	if checker, ok := s.worker.(LiveChecker); ok && s.CurrentState() == Running {
		live = checker.IsLive
	}

	n, err := Reconcile(ctx, runs, live, s.logger)
	s.metrics.OrphansReconciled(n)
	return n, err
}
