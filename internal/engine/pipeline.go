package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/autokit/internal/bus"
	"github.com/roach88/autokit/internal/model"
)

// DefaultStartConcurrency bounds concurrent run creation per drain.
const DefaultStartConcurrency = 8

// Matcher turns an event into execution requests. *trigger.Dispatcher
// satisfies it.
type Matcher interface {
	Requests(ctx context.Context, ev model.Event) ([]model.ExecutionRequest, error)
}

// WorkflowGetter loads the workflow a request names.
type WorkflowGetter interface {
	GetWorkflow(ctx context.Context, id string) (model.Workflow, error)
}

// Pipeline is the execution context the supervisor attaches and detaches.
type Pipeline struct {
	bus         *bus.Bus
	matcher     Matcher
	orch        *Orchestrator
	workflows   WorkflowGetter
	exec        Executor
	logger      *slog.Logger
	concurrency int

	queue *requestQueue

	mu       sync.Mutex
	attached bool
	closed   bool
	deferred []model.ExecutionRequest
	live     map[string]struct{}

	runs sync.WaitGroup
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithExecutor(e Executor) PipelineOption {
	return func(p *Pipeline) { p.exec = e }
}

func WithStartConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires the event bus to the orchestrator through matcher.
func NewPipeline(b *bus.Bus, matcher Matcher, orch *Orchestrator, workflows WorkflowGetter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		bus:         b,
		matcher:     matcher,
		orch:        orch,
		workflows:   workflows,
		logger:      slog.Default(),
		concurrency: DefaultStartConcurrency,
		queue:       newRequestQueue(),
		live:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.exec == nil {
		p.exec = EchoExecutor{Logger: p.logger}
	}
	return p
}

// Attach subscribes to the bus and starts the intake and drain loops. The
// returned detach stops intake, starts requests that were already accepted,
// and leaves in-flight runs executing.
func (p *Pipeline) Attach(ctx context.Context) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("pipeline closed")
	}
	if p.attached {
		p.mu.Unlock()
		return nil, errors.New("pipeline already attached")
	}
	sub, err := p.bus.Subscribe("pipeline")
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	p.attached = true
	p.mu.Unlock()

	base := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(base)

	var intake, drain sync.WaitGroup
	intake.Add(1)
	go func() {
		defer intake.Done()
		p.intake(loopCtx, sub)
	}()
	drain.Add(1)
	go func() {
		defer drain.Done()
		p.drain(loopCtx, base)
	}()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			sub.Close()
			intake.Wait()
			cancel()
			drain.Wait()
			p.startQueued(base, base)

			p.mu.Lock()
			p.attached = false
			p.mu.Unlock()
		})
	}
	return detach, nil
}

func (p *Pipeline) intake(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			// Events already delivered were accepted; route them before
			// leaving.
			for {
				select {
				case ev := <-sub.Events():
					p.route(ctx, ev)
				default:
					return
				}
			}
		case ev := <-sub.Events():
			p.route(ctx, ev)
		}
	}
}

func (p *Pipeline) route(ctx context.Context, ev model.Event) {
	reqs, err := p.matcher.Requests(ctx, ev)
	if err != nil {
		p.logger.Error("dispatch failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return
	}
	if len(reqs) == 0 {
		p.logger.Debug("no matching workflows", "event_id", ev.ID, "kind", ev.Kind)
		return
	}
	if !p.queue.Enqueue(reqs...) {
		p.logger.Warn("pipeline closed, dropping requests", "event_id", ev.ID, "count", len(reqs))
	}
}

func (p *Pipeline) drain(ctx, execCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-p.queue.Wait():
			if !ok {
				return
			}
		}
		p.startQueued(ctx, execCtx)
	}
}

func (p *Pipeline) startQueued(ctx, execCtx context.Context) {
	reqs := p.queue.DrainAll()
	if len(reqs) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, req := range reqs {
		g.Go(func() error {
			p.startOne(ctx, execCtx, req)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) startOne(ctx, execCtx context.Context, req model.ExecutionRequest) {
	// The id is live before the RUNNING row is written, so a concurrent
	// reconcile never finalizes a row this process is about to execute.
	if req.RunID == "" {
		req.RunID = p.orch.newID()
	}
	p.mu.Lock()
	p.live[req.RunID] = struct{}{}
	p.mu.Unlock()

	runID, err := p.orch.Start(ctx, req)
	if err != nil {
		p.logger.Error("run not started, deferring", "workflow_id", req.WorkflowID, "run_id", req.RunID, "error", err)
		p.mu.Lock()
		delete(p.live, req.RunID)
		p.deferred = append(p.deferred, req)
		p.mu.Unlock()
		return
	}

	p.runs.Add(1)
	go p.execute(execCtx, runID, req)
}

func (p *Pipeline) execute(ctx context.Context, runID string, req model.ExecutionRequest) {
	defer p.runs.Done()
	defer func() {
		p.mu.Lock()
		delete(p.live, runID)
		p.mu.Unlock()
	}()

	outcome, log := p.invoke(ctx, req)
	if err := p.orch.Complete(ctx, runID, outcome, log); err != nil {
		p.logger.Error("complete failed", "run_id", runID, "workflow_id", req.WorkflowID, "error", err)
	}
}

func (p *Pipeline) invoke(ctx context.Context, req model.ExecutionRequest) (status model.RunStatus, log string) {
	defer func() {
		if r := recover(); r != nil {
			status, log = model.RunError, fmt.Sprintf("executor panic: %v", r)
		}
	}()

	wf, err := p.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return model.RunError, fmt.Sprintf("workflow unavailable: %v", err)
	}
	out, err := p.exec.Execute(ctx, wf, req.Event)
	if err != nil {
		if out == "" {
			return model.RunError, err.Error()
		}
		return model.RunError, out + ": " + err.Error()
	}
	return model.RunSuccess, out
}

// Kick re-queues requests whose start failed and wakes the drain loop.
func (p *Pipeline) Kick() {
	p.mu.Lock()
	deferred := p.deferred
	p.deferred = nil
	p.mu.Unlock()

	if len(deferred) > 0 {
		if !p.queue.Enqueue(deferred...) {
			p.mu.Lock()
			p.deferred = append(deferred, p.deferred...)
			p.mu.Unlock()
		}
		return
	}
	p.queue.Notify()
}

// Close shuts the request queue. A running drain loop exits, requests
// already queued still start on detach, and the pipeline cannot be attached
// again.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.queue.Close()
}

// IsLive reports whether runID is executing in this process.
func (p *Pipeline) IsLive(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[runID]
	return ok
}

// Pending returns the number of queued and deferred requests.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	deferred := len(p.deferred)
	p.mu.Unlock()
	return p.queue.Len() + deferred
}

// Wait blocks until every started run has completed.
func (p *Pipeline) Wait() {
	p.runs.Wait()
}
