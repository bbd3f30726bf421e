// Package metrics exposes Prometheus collectors for the automation pipeline.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autokit"

const readHeaderTimeout = 10 * time.Second

// Metrics groups the pipeline collectors.
type Metrics struct {
	eventsTotal       *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	dispatchMatches   prometheus.Counter
	rulesActive       prometheus.Gauge
	runsStarted       prometheus.Counter
	runsCompleted     *prometheus.CounterVec
	runDuration       prometheus.Histogram
	persistRetries    prometheus.Counter
	orphansReconciled prometheus.Counter
	supervisorState   *prometheus.GaugeVec
	guardAcquisitions prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Normalized events published, by kind",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Raw signals dropped before dispatch, by reason",
		}, []string{"reason"}),
		dispatchMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_matches_total",
			Help:      "Workflow matches produced by the trigger dispatcher",
		}),
		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trigger_rules_active",
			Help:      "Trigger rules in the current dispatcher index",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Runs created by the orchestrator",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Runs finalized by the orchestrator, by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run start to completion",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30, 120, 600},
		}),
		persistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_retries_total",
			Help:      "Store writes retried after a persistence failure",
		}),
		orphansReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_reconciled_total",
			Help:      "Running runs marked Error at startup reconciliation",
		}),
		supervisorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supervisor_state",
			Help:      "1 for the supervisor's current lifecycle state, 0 otherwise",
		}, []string{"state"}),
		guardAcquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_acquisitions_total",
			Help:      "Successful acquisitions of the exclusive guard",
		}),
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewRegistry returns a registry carrying m and the Go runtime collectors.
func NewRegistry() (*prometheus.Registry, *Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsTotal,
		m.eventsDropped,
		m.dispatchMatches,
		m.rulesActive,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.persistRetries,
		m.orphansReconciled,
		m.supervisorState,
		m.guardAcquisitions,
	}
}

func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Matched(n int) {
	if m == nil {
		return
	}
	m.dispatchMatches.Add(float64(n))
}

func (m *Metrics) RulesActive(n int) {
	if m == nil {
		return
	}
	m.rulesActive.Set(float64(n))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

// RunCompleted records a finalized run and, when elapsed is positive, its
// duration.
func (m *Metrics) RunCompleted(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	if elapsed > 0 {
		m.runDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) PersistRetry() {
	if m == nil {
		return
	}
	m.persistRetries.Inc()
}

func (m *Metrics) OrphansReconciled(n int) {
	if m == nil {
		return
	}
	m.orphansReconciled.Add(float64(n))
}

// SupervisorState marks state as current and clears the others.
func (m *Metrics) SupervisorState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.supervisorState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) GuardAcquired() {
	if m == nil {
		return
	}
	m.guardAcquisitions.Inc()
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
