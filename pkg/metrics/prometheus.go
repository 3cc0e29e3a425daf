package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry           *prometheus.Registry
	decisions          *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	accountsByStatus   *prometheus.GaugeVec
	returnsScheduled   prometheus.Counter
	freezes            prometheus.Counter
	logger             *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	collector := &MetricsCollector{
		registry: registry,
		decisions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "piguard_decisions_total",
			Help: "Total number of filtered transactions by outcome and reject reason",
		}, []string{"outcome", "reason"}),
		evaluationDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "piguard_filter_duration_seconds",
			Help:    "Time taken to filter a transaction including persistence",
			Buckets: prometheus.DefBuckets,
		}),
		accountsByStatus: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "piguard_accounts",
			Help: "Tracked accounts by compliance status",
		}, []string{"status"}),
		returnsScheduled: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "piguard_fund_returns_scheduled_total",
			Help: "Total number of fund returns scheduled from offending accounts",
		}),
		freezes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "piguard_freezes_total",
			Help: "Total number of accounts moved to frozen",
		}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RecordDecision(outcome, reason string, duration time.Duration) {
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordFreeze() {
	m.freezes.Inc()
}

func (m *MetricsCollector) AddScheduledReturns(n int) {
	m.returnsScheduled.Add(float64(n))
}

func (m *MetricsCollector) SetAccounts(active, flagged, frozen int) {
	m.accountsByStatus.WithLabelValues("active").Set(float64(active))
	m.accountsByStatus.WithLabelValues("flagged").Set(float64(flagged))
	m.accountsByStatus.WithLabelValues("frozen").Set(float64(frozen))
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
