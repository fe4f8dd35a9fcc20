// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics bundles the engine's Prometheus instruments. A single instance is
// constructed at startup and shared by the resolver and orchestrator; the nil
// receiver is a no-op so components can run unmetered in tests.
type Metrics struct {
	registry *prometheus.Registry

	ActionsExecuted    *prometheus.CounterVec // labels: type, status
	ActionRetries      prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	StrategySuccesses  *prometheus.CounterVec // label: strategy
	ResolutionDuration prometheus.Histogram
}

// NewMetrics constructs the instrument set on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentflow",
			Name:      "actions_executed_total",
			Help:      "Actions executed, by action type and final status.",
		}, []string{"type", "status"}),
		ActionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intentflow",
			Name:      "action_retries_total",
			Help:      "Retry attempts consumed across all actions.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intentflow",
			Name:      "resolution_cache_hits_total",
			Help:      "Element resolutions served from the cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "intentflow",
			Name:      "resolution_cache_misses_total",
			Help:      "Element resolutions that ran the strategy chain.",
		}),
		StrategySuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentflow",
			Name:      "strategy_successes_total",
			Help:      "Successful resolutions, by winning strategy.",
		}, []string{"strategy"}),
		ResolutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intentflow",
			Name:      "resolution_duration_seconds",
			Help:      "Wall time of element resolution calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// ObserveAction records one finished action.
func (m *Metrics) ObserveAction(actionType string, success bool, retries int) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.ActionsExecuted.WithLabelValues(actionType, status).Inc()
	m.ActionRetries.Add(float64(retries))
}

// ObserveResolution records one resolver call that ran the strategy chain.
func (m *Metrics) ObserveResolution(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResolutionDuration.Observe(d.Seconds())
	if strategy != "" {
		m.StrategySuccesses.WithLabelValues(strategy).Inc()
	}
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics endpoint on addr in a background goroutine. The
// returned server should be shut down by the caller.
func (m *Metrics) Serve(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()
	return srv
}
