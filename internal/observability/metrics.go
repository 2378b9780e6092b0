package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "exstem_assess"

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec

	gateDecisionsTotal   *prometheus.CounterVec
	finalizeTotal        *prometheus.CounterVec
	finalScore           prometheus.Histogram
	fraudSignalsTotal    *prometheus.CounterVec
	answerWritesTotal    *prometheus.CounterVec
	answerQueueDepth     prometheus.Gauge
	fraudEventsPersisted *prometheus.CounterVec
	liveSessions         prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors exported on /metrics.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_latency_seconds",
			Help:      "Latency distribution for HTTP requests.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"})

		gateDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Attempt gate outcomes by result.",
		}, []string{"result"})

		finalizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "finalize_total",
			Help:      "Finalize calls by outcome (finalized, already_final, error) and trigger.",
		}, []string{"outcome", "trigger"})

		finalScore = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "final_score",
			Help:      "Distribution of final average scores.",
			Buckets:   []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		})

		fraudSignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "signals_total",
			Help:      "Browser integrity signals received by kind.",
		}, []string{"signal"})

		answerWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer_writer",
			Name:      "writes_total",
			Help:      "Answer writer batches by result.",
		}, []string{"result"})

		answerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "answer_writer",
			Name:      "queue_depth",
			Help:      "Answer saves waiting to be written.",
		})

		fraudEventsPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud_worker",
			Name:      "events_total",
			Help:      "Fraud audit events handled by the fraud worker by result.",
		}, []string{"result"})

		liveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "live_sessions",
			Help:      "Open websocket exam sessions.",
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds,
			gateDecisionsTotal, finalizeTotal, finalScore,
			fraudSignalsTotal, answerWritesTotal, answerQueueDepth,
			fraudEventsPersisted, liveSessions,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// GateDecisions counts admission outcomes.
func GateDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return gateDecisionsTotal
}

// Finalizations counts finalize outcomes.
func Finalizations() *prometheus.CounterVec {
	RegisterMetrics()
	return finalizeTotal
}

// FinalScores observes final averages.
func FinalScores() prometheus.Histogram {
	RegisterMetrics()
	return finalScore
}

// FraudSignals counts integrity signals.
func FraudSignals() *prometheus.CounterVec {
	RegisterMetrics()
	return fraudSignalsTotal
}

// AnswerWrites counts answer writer batches.
func AnswerWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return answerWritesTotal
}

// AnswerQueueDepth tracks pending answer saves.
func AnswerQueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return answerQueueDepth
}

// FraudEventsPersisted counts fraud worker results.
func FraudEventsPersisted() *prometheus.CounterVec {
	RegisterMetrics()
	return fraudEventsPersisted
}

// LiveSessions tracks open websocket sessions.
func LiveSessions() prometheus.Gauge {
	RegisterMetrics()
	return liveSessions
}
