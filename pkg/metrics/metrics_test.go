package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.ObserveCompile(time.Millisecond, nil)
	m.ObserveBatch("explain", 3)
	m.ObserveStore("find", time.Millisecond)
	m.AddExplainAnswers(5)
	m.WorkerStarted()
	m.WorkerStopped()
	m.CacheLookup(true)
	m.SetBreakerState("answer-cache", 1)
}

func TestCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCompile(time.Millisecond, nil)
	m.ObserveCompile(time.Millisecond, errors.New("ambiguous"))
	m.ObserveCompile(time.Millisecond, nil)
	if got := testutil.ToFloat64(m.PatternsCompiledTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("compiled ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PatternsCompiledTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("compiled error = %v, want 1", got)
	}

	m.ObserveBatch("explain", 10)
	m.ObserveBatch("explain", 4)
	if got := testutil.ToFloat64(m.BatchesTotal.WithLabelValues("explain")); got != 2 {
		t.Errorf("explain batches = %v, want 2", got)
	}

	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerStopped()
	if got := testutil.ToFloat64(m.WorkersActive); got != 1 {
		t.Errorf("active workers = %v, want 1", got)
	}

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	if hits, misses := testutil.ToFloat64(m.CacheHitsTotal), testutil.ToFloat64(m.CacheMissesTotal); hits != 1 || misses != 2 {
		t.Errorf("cache hits/misses = %v/%v, want 1/2", hits, misses)
	}

	m.AddExplainAnswers(7)
	if got := testutil.ToFloat64(m.ExplainAnswersTotal); got != 7 {
		t.Errorf("explain answers = %v, want 7", got)
	}
}
