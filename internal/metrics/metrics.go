// Package metrics exposes Prometheus counters and histograms for letter
// generation and the HTTP API. A nil *Metrics is a valid no-op.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	generations  *prometheus.CounterVec
	inputTokens  *prometheus.HistogramVec
	genLatency   *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	reqLatency   *prometheus.HistogramVec
	prunedLetter prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discharge_docs",
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Letter generations by outcome",
		}, []string{"outcome", "deployment"}),
		inputTokens: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "discharge_docs",
			Subsystem: "llm",
			Name:      "input_tokens",
			Help:      "Prompt size in tokens",
			Buckets:   prometheus.ExponentialBuckets(1000, 2, 8),
		}, []string{"deployment"}),
		genLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "discharge_docs",
			Subsystem: "llm",
			Name:      "generation_seconds",
			Help:      "Duration of a generation attempt",
			Buckets:   []float64{0.01, 0.1, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discharge_docs",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "discharge_docs",
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		prunedLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "discharge_docs",
			Subsystem: "ledger",
			Name:      "letters_removed_total",
			Help:      "Stored letters cleared by pruning or retention",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.generations, m.inputTokens, m.genLatency, m.requests, m.reqLatency, m.prunedLetter)
	return m
}

func (m *Metrics) ObserveGeneration(outcome, deployment string, tokens int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome, deployment).Inc()
	m.inputTokens.WithLabelValues(deployment).Observe(float64(tokens))
	m.genLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.reqLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.prunedLetter.Add(float64(n))
}

// Handler serves the metrics of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
