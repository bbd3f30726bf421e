package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/autokit/internal/metrics"
	"github.com/roach88/autokit/internal/model"
)

// WorkflowSource supplies the workflows rules are derived from.
// store.Store satisfies it.
type WorkflowSource interface {
	GetAllWorkflows(ctx context.Context) ([]model.Workflow, error)
}

// Dispatcher indexes the rules of enabled workflows by event kind.
//
// The index starts stale and is rebuilt lazily on the first OnEvent after
// each Invalidate. Concurrent rebuilds are coalesced.
type Dispatcher struct {
	src     WorkflowSource
	parser  *Parser
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	index    map[model.EventKind][]Rule
	rules    []Rule
	builtGen uint64

	// gen advances on every Invalidate; the index is stale while builtGen
	// trails it.
	gen     atomic.Uint64
	refresh singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// NewDispatcher creates a dispatcher over src.
func NewDispatcher(src WorkflowSource, opts ...Option) (*Dispatcher, error) {
	parser, err := NewParser()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		src:    src,
		parser: parser,
		logger: slog.Default(),
		index:  make(map[model.EventKind][]Rule),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.gen.Store(1)
	return d, nil
}

// Invalidate marks the index stale. Call it after any workflow status or
// definition change.
func (d *Dispatcher) Invalidate() {
	d.gen.Add(1)
}

func (d *Dispatcher) stale() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.builtGen != d.gen.Load()
}

// Refresh rebuilds the index from the source now. Callers share a rebuild
// only when they target the same generation, so a rebuild that began before
// an Invalidate never answers for it.
func (d *Dispatcher) Refresh(ctx context.Context) error {
	gen := d.gen.Load()
	_, err, _ := d.refresh.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return nil, d.rebuild(ctx, gen)
	})
	return err
}

func (d *Dispatcher) rebuild(ctx context.Context, gen uint64) error {
	workflows, err := d.src.GetAllWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("refresh rules: %w", err)
	}

	index := make(map[model.EventKind][]Rule)
	rules := make([]Rule, 0, len(workflows))
	for _, w := range workflows {
		if w.Status != model.WorkflowEnabled {
			d.logger.Debug("skipping disabled workflow", "workflow_id", w.ID)
			continue
		}
		rule, ok, err := d.parser.Parse(w)
		if err != nil {
			d.logger.Warn("skipping malformed trigger", "workflow_id", w.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		rules = append(rules, rule)
		for _, k := range rule.Kinds {
			index[k] = append(index[k], rule)
		}
	}

	d.mu.Lock()
	if gen < d.builtGen {
		// A newer generation finished first.
		d.mu.Unlock()
		d.logger.Debug("discarding outdated trigger rules", "generation", gen)
		return nil
	}
	d.index = index
	d.rules = rules
	d.builtGen = gen
	d.mu.Unlock()

	d.metrics.RulesActive(len(rules))
	d.logger.Debug("trigger rules rebuilt", "workflows", len(workflows), "rules", len(rules))
	return nil
}

// OnEvent returns the ids of workflows whose rule matches ev. A stale index
// is rebuilt first; if that fails and a previous index exists, the previous
// index answers and the failure is logged.
func (d *Dispatcher) OnEvent(ctx context.Context, ev model.Event) ([]string, error) {
	if d.stale() {
		if err := d.Refresh(ctx); err != nil {
			d.mu.RLock()
			built := d.builtGen != 0
			d.mu.RUnlock()
			if !built {
				return nil, err
			}
			d.logger.Error("using previous trigger rules", "error", err)
		}
	}

	d.mu.RLock()
	candidates := d.index[ev.Kind]
	d.mu.RUnlock()

	var ids []string
	for _, r := range candidates {
		if r.Matches(ev) {
			ids = append(ids, r.WorkflowID)
		}
	}
	d.metrics.Matched(len(ids))
	return ids, nil
}

// Requests wraps OnEvent, producing one ExecutionRequest per match.
func (d *Dispatcher) Requests(ctx context.Context, ev model.Event) ([]model.ExecutionRequest, error) {
	ids, err := d.OnEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	reqs := make([]model.ExecutionRequest, len(ids))
	for i, id := range ids {
		reqs[i] = model.ExecutionRequest{WorkflowID: id, Event: ev}
	}
	return reqs, nil
}

// Rules returns a snapshot of the current rules in workflow order.
func (d *Dispatcher) Rules() []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}
