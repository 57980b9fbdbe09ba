// Package metrics exposes Prometheus counters for the bot and its HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "network_scout"

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Inbound messages handled, by platform, candidate state and outcome",
		},
		[]string{"platform", "state", "outcome"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Candidate state transitions",
		},
		[]string{"from", "to"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM gateway calls by prompt and status",
		},
		[]string{"prompt", "status"},
	)

	batchCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_candidates_total",
			Help:      "Candidates processed by batch passes, by result",
		},
		[]string{"pass", "result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	jobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Job postings accepted by the API",
		},
	)
)

// Recorder satisfies the small observer interfaces other packages declare.
type Recorder struct{}

func (Recorder) ObserveLLMCall(prompt string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmCallsTotal.WithLabelValues(prompt, status).Inc()
}

func (Recorder) ObserveTurn(platform, state, outcome string) {
	turnsTotal.WithLabelValues(platform, state, outcome).Inc()
}

func (Recorder) ObserveTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

func (Recorder) ObserveBatch(pass string, scanned, advanced, skipped, failed int) {
	batchCandidatesTotal.WithLabelValues(pass, "scanned").Add(float64(scanned))
	batchCandidatesTotal.WithLabelValues(pass, "advanced").Add(float64(advanced))
	batchCandidatesTotal.WithLabelValues(pass, "skipped").Add(float64(skipped))
	batchCandidatesTotal.WithLabelValues(pass, "failed").Add(float64(failed))
}

func (Recorder) ObserveJobSubmitted() {
	jobsSubmitted.Inc()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency, labelled by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
