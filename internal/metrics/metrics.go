// Package metrics provides Prometheus instrumentation for the fraud scorer.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_scorer",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraud_scorer",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RunsTotal counts scoring runs by outcome.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_scorer",
			Name:      "runs_total",
			Help:      "Total scoring runs by outcome.",
		},
		[]string{"outcome"}, // "done", "failed"
	)

	// RunDuration observes end-to-end pipeline duration.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraud_scorer",
			Name:      "run_duration_seconds",
			Help:      "Scoring run duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	// TransactionsScored counts scored transactions.
	TransactionsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud_scorer",
		Name:      "transactions_scored_total",
		Help:      "Total transactions scored.",
	})

	// TransactionsFlagged counts transactions that triggered at least one rule.
	TransactionsFlagged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud_scorer",
		Name:      "transactions_flagged_total",
		Help:      "Total transactions with at least one triggered rule.",
	})

	// RuleTriggersTotal counts rule firings by rule id.
	RuleTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_scorer",
			Name:      "rule_triggers_total",
			Help:      "Total rule firings by rule id.",
		},
		[]string{"rule"},
	)

	// RiskScore observes the distribution of risk scores.
	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraud_scorer",
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores.",
			Buckets:   []float64{0, 10, 25, 50, 70, 90, 100},
		},
	)

	// IngestionErrorsTotal counts rejected input batches.
	IngestionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud_scorer",
		Name:      "ingestion_errors_total",
		Help:      "Total input batches rejected at ingestion.",
	})

	// AlertsPublishedTotal counts alerts delivered to a sink.
	AlertsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_scorer",
			Name:      "alerts_published_total",
			Help:      "Total fraud alerts delivered by sink and result.",
		},
		[]string{"sink", "result"},
	)

	// AlertsConsumedTotal counts alerts read by the alert monitor by risk level.
	AlertsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraud_scorer",
			Name:      "alerts_consumed_total",
			Help:      "Total fraud alerts consumed by risk level.",
		},
		[]string{"level"},
	)

	// ActiveWorkers tracks scoring goroutines currently evaluating users.
	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraud_scorer",
		Name:      "active_workers",
		Help:      "Number of scoring workers currently evaluating users.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RunsTotal,
		RunDuration,
		TransactionsScored,
		TransactionsFlagged,
		RuleTriggersTotal,
		RiskScore,
		IngestionErrorsTotal,
		AlertsPublishedTotal,
		AlertsConsumedTotal,
		ActiveWorkers,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
