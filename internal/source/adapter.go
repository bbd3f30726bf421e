package source

import (
	"context"
	"log/slog"

	"github.com/roach88/autokit/internal/metrics"
	"github.com/roach88/autokit/internal/model"
)

// Publisher accepts normalized events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Adapter normalizes raw signals, stamps them, and publishes downstream.
type Adapter struct {
	pub     Publisher
	clock   model.Clock
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithClock(c model.Clock) Option { return func(a *Adapter) { a.clock = c } }

func WithIDGenerator(gen func() string) Option { return func(a *Adapter) { a.newID = gen } }

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Adapter) { a.metrics = m } }

// NewAdapter creates an adapter publishing to pub.
func NewAdapter(pub Publisher, opts ...Option) *Adapter {
	a := &Adapter{
		pub:    pub,
		clock:  model.SystemClock{},
		newID:  model.NewID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle normalizes raw and publishes the result. Malformed signals are
// logged and dropped; Handle reports whether an event was published. Only a
// publish failure (bus closed, ctx done) is returned.
func (a *Adapter) Handle(ctx context.Context, raw model.RawSignal) (bool, error) {
	ev, err := Normalize(raw)
	if err != nil {
		a.logger.Warn("dropping raw signal", "action", raw.Action, "package", raw.Package, "error", err)
		a.metrics.EventDropped("malformed")
		return false, nil
	}

	ev.ID = a.newID()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.clock.Now()
	}

	if err := a.pub.Publish(ctx, ev); err != nil {
		a.metrics.EventDropped("publish")
		return false, err
	}

	a.logger.Debug("event published", "id", ev.ID, "kind", ev.Kind, "package", ev.SourcePackage)
	a.metrics.EventPublished(string(ev.Kind))
	return true, nil
}
