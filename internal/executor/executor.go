// Package executor compiles lazy sequences of tree patterns into native
// filters, groups them into bounded batches and submits every batch to the
// backing store as a single disjunctive request.
package executor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/compiler"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/record"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/tree"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/metrics"
)

// Selector decides whether a compiled pattern is submitted at all.
type Selector interface {
	Keep(ctx context.Context, f filter.Filter) (bool, error)
}

// Config holds the batching policy.
type Config struct {
	// BatchSize bounds the number of filters per request. Zero or a negative
	// value submits one request per pattern.
	BatchSize int
	// InhibitBatchStreamTime pauses the running stream timers while a batch
	// is assembled and charges that time to eval.stream.inhibited.
	InhibitBatchStreamTime bool
}

// Executor is single-goroutine: it owns a navigator, which is not safe for
// concurrent use. Parallel callers create one Executor per worker.
type Executor struct {
	store    store.Store
	compiler *compiler.Compiler
	nav      summary.Navigator
	cfg      Config
	selector Selector
	measures *measure.Set
	metrics  *metrics.Metrics
	logger   *slog.Logger

	nbQueries int
	nbBatches int
}

// Option customises an Executor.
type Option func(*Executor)

// WithSelector drops patterns sel does not keep before batching.
func WithSelector(sel Selector) Option {
	return func(e *Executor) { e.selector = sel }
}

// WithMetrics reports compilations, batches and store latencies to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor over st. Compilation time is charged to the
// eval.query2native timer of ms.
func New(st store.Store, opts compiler.Options, nav summary.Navigator, cfg Config, ms *measure.Set, options ...Option) *Executor {
	if ms == nil {
		ms = measure.NewSet()
	}
	e := &Executor{
		store:    st,
		compiler: compiler.New(opts, ms.Timer(measure.GroupTime, measure.Query2Native)),
		nav:      nav,
		cfg:      cfg,
		measures: ms,
		logger:   slog.Default().With("component", "batch-executor", "store", st.Name()),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Measures returns the measurement set the executor writes to.
func (e *Executor) Measures() *measure.Set {
	return e.measures
}

// NbQueries returns the number of filters batched by the last run.
func (e *Executor) NbQueries() int {
	return e.nbQueries
}

// NbBatches returns the number of requests issued by the last run.
func (e *Executor) NbBatches() int {
	return e.nbBatches
}

func (e *Executor) resetCounts() {
	e.nbQueries, e.nbBatches = 0, 0
}

// Compile translates one pattern with the executor's navigator.
func (e *Executor) Compile(p *tree.Pattern) (filter.Filter, error) {
	start := time.Now()
	f, err := e.compiler.Compile(p, e.nav)
	e.metrics.ObserveCompile(time.Since(start), err)
	return f, err
}

// compiled maps patterns to their filters, skipping those the selector
// drops. Errors are annotated with the rank of the failing pattern.
func (e *Executor) compiled(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) iter.Seq2[filter.Filter, error] {
	return func(yield func(filter.Filter, error) bool) {
		rank := 0
		for p, err := range patterns {
			if err != nil {
				yield(nil, err)
				return
			}
			rank++
			f, err := e.Compile(p)
			if err != nil {
				yield(nil, fmt.Errorf("pattern %d: %w", rank, err))
				return
			}
			if e.selector != nil {
				keep, err := e.selector.Keep(ctx, f)
				if err != nil {
					yield(nil, fmt.Errorf("pattern %d %s: %w", rank, p, err))
					return
				}
				if !keep {
					continue
				}
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// batch is a group of filters combined with Or.
type batch struct {
	filter filter.Filter
	size   int
}

// batches pulls filters in groups of at most BatchSize. Counters are reset
// when iteration starts.
func (e *Executor) batches(filters iter.Seq2[filter.Filter, error]) iter.Seq2[batch, error] {
	return func(yield func(batch, error) bool) {
		e.resetCounts()
		size := e.cfg.BatchSize
		if size <= 0 {
			size = 1
		}
		next, stop := iter.Pull2(filters)
		defer stop()

		for {
			paused := e.inhibitStart()
			group, more, err := pullBatch(next, size)
			e.inhibitEnd(paused)
			if err != nil {
				yield(batch{}, err)
				return
			}
			if len(group) > 0 {
				e.nbQueries += len(group)
				e.nbBatches++
				if !yield(batch{filter: filter.Disjunction(group), size: len(group)}, nil) {
					return
				}
			}
			if !more {
				return
			}
		}
	}
}

// pullBatch drains up to size items. more is false once the source is
// exhausted.
func pullBatch[T any](next func() (T, error, bool), size int) ([]T, bool, error) {
	group := make([]T, 0, size)
	for len(group) < size {
		v, err, ok := next()
		if !ok {
			return group, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		group = append(group, v)
	}
	return group, true, nil
}

func (e *Executor) streamTimers() []*measure.Timer {
	return []*measure.Timer{
		e.measures.Timer(measure.GroupTime, measure.StreamNext),
		e.measures.Timer(measure.GroupTime, measure.StreamTotal),
	}
}

// inhibitStart stops the running stream timers and returns them.
func (e *Executor) inhibitStart() []*measure.Timer {
	if !e.cfg.InhibitBatchStreamTime {
		return nil
	}
	var paused []*measure.Timer
	for _, t := range e.streamTimers() {
		if t.Running() {
			paused = append(paused, t)
		}
	}
	measure.StopAll(paused...)
	e.measures.Timer(measure.GroupTime, measure.StreamInhibited).Start()
	return paused
}

func (e *Executor) inhibitEnd(paused []*measure.Timer) {
	if !e.cfg.InhibitBatchStreamTime {
		return
	}
	e.measures.Timer(measure.GroupTime, measure.StreamInhibited).Stop()
	measure.StartAll(paused...)
}

// Execute streams the answers of every batch of patterns in order.
func (e *Executor) Execute(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) iter.Seq2[record.Document, error] {
	return e.find(ctx, "execute", e.compiled(ctx, patterns))
}

// ExecuteNatives batches already compiled filters, such as the ones read
// back from a native query file.
func (e *Executor) ExecuteNatives(ctx context.Context, filters iter.Seq2[filter.Filter, error]) iter.Seq2[record.Document, error] {
	return e.find(ctx, "native", filters)
}

func (e *Executor) find(ctx context.Context, mode string, filters iter.Seq2[filter.Filter, error]) iter.Seq2[record.Document, error] {
	return func(yield func(record.Document, error) bool) {
		create := e.measures.Timer(measure.GroupTime, measure.StreamCreate)
		for b, err := range e.batches(filters) {
			if err != nil {
				yield(nil, err)
				return
			}
			e.metrics.ObserveBatch(mode, b.size)
			create.Start()
			answers := e.store.Find(ctx, b.filter)
			create.Stop()
			start := time.Now()
			for doc, err := range answers {
				if err != nil {
					yield(nil, fmt.Errorf("batch %d: %w", e.nbBatches, err))
					return
				}
				if !yield(doc, nil) {
					return
				}
			}
			e.metrics.ObserveStore("find", time.Since(start))
		}
	}
}

// Explain yields the statistics of every batch of patterns in order.
func (e *Executor) Explain(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) iter.Seq2[store.ExplainStats, error] {
	return func(yield func(store.ExplainStats, error) bool) {
		for b, err := range e.batches(e.compiled(ctx, patterns)) {
			if err != nil {
				yield(store.ExplainStats{}, err)
				return
			}
			stats, err := e.explain(ctx, b)
			if err != nil {
				yield(store.ExplainStats{}, fmt.Errorf("batch %d: %w", e.nbBatches, err))
				return
			}
			if !yield(stats, nil) {
				return
			}
		}
	}
}

// ExplainBatch compiles patterns and explains them as one request. Unlike
// Explain, the query and batch counters accumulate across calls.
func (e *Executor) ExplainBatch(ctx context.Context, patterns []*tree.Pattern) (store.ExplainStats, error) {
	filters := make([]filter.Filter, 0, len(patterns))
	for f, err := range e.compiled(ctx, slicePatterns(patterns)) {
		if err != nil {
			return store.ExplainStats{}, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return store.ExplainStats{}, nil
	}
	e.nbQueries += len(filters)
	e.nbBatches++
	stats, err := e.explain(ctx, batch{filter: filter.Disjunction(filters), size: len(filters)})
	if err != nil {
		return store.ExplainStats{}, fmt.Errorf("batch %d: %w", e.nbBatches, err)
	}
	return stats, nil
}

func (e *Executor) explain(ctx context.Context, b batch) (store.ExplainStats, error) {
	e.metrics.ObserveBatch("explain", b.size)
	start := time.Now()
	stats, err := e.store.Explain(ctx, b.filter)
	e.metrics.ObserveStore("explain", time.Since(start))
	if err != nil {
		return store.ExplainStats{}, err
	}
	e.metrics.AddExplainAnswers(stats.Answers)
	e.logger.Debug("batch explained", "batch", e.nbBatches, "answers", stats.Answers, "db_time", stats.Elapsed)
	return stats, nil
}

// Each is the outcome of one pattern submitted on its own.
type Each struct {
	Pattern *tree.Pattern
	Filter  filter.Filter
	Answers iter.Seq2[record.Document, error]
}

// ExecuteEach submits every pattern separately, without batching. Answers
// of an Each must be consumed before advancing the outer sequence.
func (e *Executor) ExecuteEach(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) iter.Seq2[Each, error] {
	return func(yield func(Each, error) bool) {
		e.resetCounts()
		for p, err := range patterns {
			if err != nil {
				yield(Each{}, err)
				return
			}
			f, err := e.Compile(p)
			if err != nil {
				yield(Each{}, fmt.Errorf("pattern %d: %w", e.nbQueries+1, err))
				return
			}
			if e.selector != nil {
				keep, err := e.selector.Keep(ctx, f)
				if err != nil {
					yield(Each{}, err)
					return
				}
				if !keep {
					continue
				}
			}
			e.nbQueries++
			e.nbBatches++
			e.metrics.ObserveBatch("each", 1)
			if !yield(Each{Pattern: p, Filter: f, Answers: e.store.Find(ctx, f)}, nil) {
				return
			}
		}
	}
}

// HasAnswer compiles p and reports whether it matches any document.
func (e *Executor) HasAnswer(ctx context.Context, p *tree.Pattern) (bool, error) {
	f, err := e.Compile(p)
	if err != nil {
		return false, err
	}
	start := time.Now()
	ok, err := e.store.HasAnswer(ctx, f)
	e.metrics.ObserveStore("has_answer", time.Since(start))
	return ok, err
}

func slicePatterns(patterns []*tree.Pattern) iter.Seq2[*tree.Pattern, error] {
	return func(yield func(*tree.Pattern, error) bool) {
		for _, p := range patterns {
			if !yield(p, nil) {
				return
			}
		}
	}
}
