// Package metrics defines the Prometheus collectors of the query pipeline
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	PatternsCompiledTotal *prometheus.CounterVec
	CompileLatency        prometheus.Histogram
	BatchesTotal          *prometheus.CounterVec
	BatchSize             prometheus.Histogram
	StoreLatency          *prometheus.HistogramVec
	ExplainAnswersTotal   prometheus.Counter
	WorkersActive         prometheus.Gauge
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg, or with the
// default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PatternsCompiledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treequery_patterns_compiled_total",
				Help: "Tree patterns compiled into native filters, by result (ok, error).",
			},
			[]string{"result"},
		),
		CompileLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "treequery_compile_latency_seconds",
				Help:    "Time to compile one tree pattern.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
			},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treequery_batches_total",
				Help: "Batches submitted to the backing store, by mode (execute, explain, native).",
			},
			[]string{"mode"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "treequery_batch_size",
				Help:    "Number of filters combined in one batch.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		StoreLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treequery_store_latency_seconds",
				Help:    "Backing store request latency, by operation.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		ExplainAnswersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "treequery_explain_answers_total",
				Help: "Answers reported by explained batches.",
			},
		),
		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "treequery_explain_workers_active",
				Help: "Parallel explain workers currently running.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "treequery_answer_cache_hits_total",
				Help: "Answer-existence cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "treequery_answer_cache_misses_total",
				Help: "Answer-existence cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "treequery_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.PatternsCompiledTotal,
		m.CompileLatency,
		m.BatchesTotal,
		m.BatchSize,
		m.StoreLatency,
		m.ExplainAnswersTotal,
		m.WorkersActive,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCompile records one compilation.
func (m *Metrics) ObserveCompile(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PatternsCompiledTotal.WithLabelValues(result).Inc()
	m.CompileLatency.Observe(d.Seconds())
}

// ObserveBatch records one batch of size filters.
func (m *Metrics) ObserveBatch(mode string, size int) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(mode).Inc()
	m.BatchSize.Observe(float64(size))
}

// ObserveStore records the latency of one store request.
func (m *Metrics) ObserveStore(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// AddExplainAnswers accumulates explained answers.
func (m *Metrics) AddExplainAnswers(n int64) {
	if m == nil {
		return
	}
	m.ExplainAnswersTotal.Add(float64(n))
}

// WorkerStarted and WorkerStopped track running explain workers.
func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersActive.Inc()
	}
}

func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.WorkersActive.Dec()
	}
}

// CacheLookup records an answer-cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// SetBreakerState publishes the state of a named circuit breaker.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
