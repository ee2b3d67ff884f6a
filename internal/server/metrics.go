// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and exposes the hooks the ingestion pipeline, retriever and expert
// crew report through.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/ingestion"
	"github.com/54b3r/studycrew-go/internal/retriever"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Metrics holds all Prometheus metrics owned by the server.
// It is created before the pipeline and crew so their hooks can report
// into it, then handed to New through Config.Metrics.
type Metrics struct {
	// reg receives late registrations such as the documents gauge.
	reg prometheus.Registerer

	// askRequestsTotal counts completed /api/ask requests, partitioned by
	// outcome: "ok" or the failure kind.
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the wall-clock duration of each /api/ask request.
	askDurationSeconds *prometheus.HistogramVec

	// retrievalFallbacksTotal counts strategies that degraded to their fallback.
	retrievalFallbacksTotal *prometheus.CounterVec

	// ingestionsTotal counts finished ingestions by outcome.
	ingestionsTotal *prometheus.CounterVec

	// ingestionDurationSeconds records how long each ingestion took.
	ingestionDurationSeconds prometheus.Histogram

	// expertTaskSeconds records expert and synthesis task latency.
	expertTaskSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected by the per-client limiter.
	rateLimitedTotal *prometheus.CounterVec
}

// NewMetrics registers all server metrics against reg and returns them.
// promauto.With(reg) is used so that each call registers into the provided
// registry rather than the global default, which keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studycrew",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of /api/ask requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studycrew",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/ask requests from receipt to final answer.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		retrievalFallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studycrew",
			Subsystem: "retrieval",
			Name:      "fallbacks_total",
			Help:      "Retrieval strategies that failed and were served by their fallback.",
		}, []string{"requested", "used"}),

		ingestionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studycrew",
			Subsystem: "ingestion",
			Name:      "total",
			Help:      "Finished document ingestions, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestionDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studycrew",
			Subsystem: "ingestion",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of document ingestions.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300},
		}),

		expertTaskSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studycrew",
			Subsystem: "crew",
			Name:      "task_duration_seconds",
			Help:      "Latency of expert and synthesis model calls.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"role", "outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studycrew",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studycrew",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studycrew",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429 by the per-client rate limiter.",
		}, []string{labelHandler}),
	}
}

// observeRateLimited records a 429 for the matched route pattern.
func (m *Metrics) observeRateLimited(r *http.Request) {
	m.rateLimitedTotal.WithLabelValues(r.Pattern).Inc()
}

// ObserveFallback records a retrieval fallback. It matches retriever.Config.OnFallback.
func (m *Metrics) ObserveFallback(requested, used retriever.Method) {
	m.retrievalFallbacksTotal.WithLabelValues(string(requested), string(used)).Inc()
}

// ObserveIngestion records an ingestion result. It matches ingestion.Config.OnResult.
func (m *Metrics) ObserveIngestion(_ string, res ingestion.Result) {
	m.ingestionsTotal.WithLabelValues(outcome(res.Err)).Inc()
	if res.Duration > 0 {
		m.ingestionDurationSeconds.Observe(res.Duration.Seconds())
	}
}

// ObserveTask records one expert or synthesis task. It matches agent.Config.OnTask.
func (m *Metrics) ObserveTask(role string, d time.Duration, err error) {
	m.expertTaskSeconds.WithLabelValues(role, outcome(err)).Observe(d.Seconds())
}

// observeAsk records one /api/ask request.
func (m *Metrics) observeAsk(d time.Duration, err error) {
	o := outcome(err)
	m.askRequestsTotal.WithLabelValues(o).Inc()
	m.askDurationSeconds.WithLabelValues(o).Observe(d.Seconds())
}

// trackDocuments registers a gauge reporting the number of queryable documents.
func (m *Metrics) trackDocuments(count func() int) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "studycrew",
		Subsystem: "registry",
		Name:      "documents",
		Help:      "Number of queryable documents.",
	}, func() float64 { return float64(count()) })

	if err := m.reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// outcome maps an error to a metric label: "ok" or the failure kind.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
