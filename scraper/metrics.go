package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aluiziolira/go-scop-orders/pool"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry            *prometheus.Registry
	QueriesTotal        *prometheus.CounterVec
	QueryDuration       prometheus.Histogram
	AttemptsTotal       prometheus.Counter
	RetriesTotal        prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	DetailFetchesTotal  *prometheus.CounterVec
	LowConfidenceTotals prometheus.Counter
	LoginsTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	queries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scop_queries_total",
			Help: "Total inbound order queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scop_query_duration_seconds",
			Help:    "End-to-end latency of order queries.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)
	attempts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scop_query_attempts_total",
			Help: "Total query runs attempted against the portal.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scop_retries_total",
			Help: "Total number of query runs retried after a failure.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scop_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)
	details := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scop_detail_fetches_total",
			Help: "Detail page fetches by outcome.",
		},
		[]string{"outcome"},
	)
	lowConfidence := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scop_low_confidence_totals_total",
			Help: "Detail records whose totals came from the total-row fallback.",
		},
	)
	logins := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scop_logins_total",
			Help: "Portal logins by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(queries, queryDuration, attempts, retries, errorsTotal, details, lowConfidence, logins)
	registry.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		Registry:            registry,
		QueriesTotal:        queries,
		QueryDuration:       queryDuration,
		AttemptsTotal:       attempts,
		RetriesTotal:        retries,
		ErrorsTotal:         errorsTotal,
		DetailFetchesTotal:  details,
		LowConfidenceTotals: lowConfidence,
		LoginsTotal:         logins,
	}
}

// RegisterPool exposes pool occupancy as gauges read at scrape time.
func (m *Metrics) RegisterPool(stats func() pool.Stats) {
	if m == nil {
		return
	}
	gauge := func(name, help string, read func(pool.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(read(stats()))
		})
	}
	m.Registry.MustRegister(
		gauge("scop_pool_busy_sessions", "Sessions currently checked out.", func(s pool.Stats) int { return s.Busy }),
		gauge("scop_pool_idle_sessions", "Authenticated sessions waiting for reuse.", func(s pool.Stats) int { return s.Idle }),
		gauge("scop_pool_waiting_checkouts", "Checkouts queued for capacity.", func(s pool.Stats) int { return s.Waiting }),
		gauge("scop_pool_creating_sessions", "Sessions being authenticated.", func(s pool.Stats) int { return s.Creating }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "scop_browser_restarts_total",
			Help: "Scheduled browser process restarts.",
		}, func() float64 { return float64(stats().Restarts) }),
	)
}

// IncQuery increments the query counter for an outcome.
func (m *Metrics) IncQuery(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a query duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.Observe(d.Seconds())
}

func (m *Metrics) IncAttempts() {
	if m == nil {
		return
	}
	m.AttemptsTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncDetail(outcome string) {
	if m == nil {
		return
	}
	m.DetailFetchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLowConfidence() {
	if m == nil {
		return
	}
	m.LowConfidenceTotals.Inc()
}

func (m *Metrics) IncLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}
