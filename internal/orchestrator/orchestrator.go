// Package orchestrator fans one pattern sequence out to a fixed pool of
// explain workers. Every worker owns its executor, navigator and
// measurement set; the sets are merged into the orchestrator's set once all
// workers are done.
package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/tree"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle phase of one orchestrated request.
type State int32

const (
	StateIdle State = iota
	StateFeeding
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFeeding:
		return "feeding"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Worker is one member of the pool. Name prefixes its measurements.
type Worker struct {
	Name     string
	Executor *executor.Executor
}

// Factory builds the executor of worker i over its private measurement set.
type Factory func(i int, ms *measure.Set) (*executor.Executor, error)

// NewWorkers creates one worker per name. Each gets a fresh measurement set
// prefixed with its name.
func NewWorkers(names []string, factory Factory) ([]Worker, error) {
	workers := make([]Worker, 0, len(names))
	for i, name := range names {
		ms := measure.NewSet()
		ms.SetPrefix(name)
		e, err := factory(i, ms)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", name, err)
		}
		workers = append(workers, Worker{Name: name, Executor: e})
	}
	return workers, nil
}

// ThreadNames returns the measurement prefixes of n anonymous threads.
func ThreadNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("thread.%d.", i)
	}
	return names
}

// Orchestrator runs a single request; create a new one per request.
type Orchestrator struct {
	batchSize int
	workers   []Worker
	measures  *measure.Set
	metrics   *metrics.Metrics
	state     atomic.Int32
	logger    *slog.Logger
}

// New validates the pool before any worker starts. Merged measurements land
// in ms.
func New(batchSize int, workers []Worker, ms *measure.Set, m *metrics.Metrics) (*Orchestrator, error) {
	if len(workers) < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"thread count must be positive, have %d", len(workers))
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if ms == nil {
		ms = measure.NewSet()
	}
	return &Orchestrator{
		batchSize: batchSize,
		workers:   workers,
		measures:  ms,
		metrics:   m,
		logger:    slog.Default().With("component", "explain-orchestrator", "threads", len(workers)),
	}, nil
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) begin() error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateFeeding)) {
		return fmt.Errorf("orchestrator already used (state %s)", o.State())
	}
	return nil
}

// Explain distributes patterns over the workers through one bounded queue of
// capacity batchSize×threads. Every worker explains its own batches; the
// returned statistics are the sum over all workers.
func (o *Orchestrator) Explain(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) (store.ExplainStats, error) {
	if err := o.begin(); err != nil {
		return store.ExplainStats{}, err
	}
	start := time.Now()
	queue := make(chan *tree.Pattern, o.batchSize*len(o.workers))
	results := make([]store.ExplainStats, len(o.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range o.workers {
		g.Go(func() error {
			stats, err := o.drain(gctx, w, queue)
			results[i] = stats
			return err
		})
	}
	g.Go(func() error {
		defer close(queue)
		defer o.state.Store(int32(StateDraining))
		return feed(gctx, patterns, queue)
	})

	return o.finish(g.Wait(), results, start)
}

// ExplainAll gives the full pattern sequence to every worker, as when each
// worker stands for one collection or partition.
func (o *Orchestrator) ExplainAll(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) (store.ExplainStats, error) {
	if err := o.begin(); err != nil {
		return store.ExplainStats{}, err
	}
	start := time.Now()
	var all []*tree.Pattern
	for p, err := range patterns {
		if err != nil {
			o.state.Store(int32(StateDone))
			return store.ExplainStats{}, err
		}
		all = append(all, p)
	}
	o.state.Store(int32(StateDraining))
	results := make([]store.ExplainStats, len(o.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range o.workers {
		g.Go(func() error {
			stats, err := o.explainAll(gctx, w, all)
			results[i] = stats
			return err
		})
	}
	return o.finish(g.Wait(), results, start)
}

func feed(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error], queue chan<- *tree.Pattern) error {
	for p, err := range patterns {
		if err != nil {
			return err
		}
		select {
		case queue <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// drain explains full batches as they fill up, then the final partial batch
// once the queue is closed.
func (o *Orchestrator) drain(ctx context.Context, w Worker, queue <-chan *tree.Pattern) (store.ExplainStats, error) {
	stop := o.started(w)
	defer stop()

	var total store.ExplainStats
	batch := make([]*tree.Pattern, 0, o.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stats, err := w.Executor.ExplainBatch(ctx, batch)
		if err != nil {
			return workerError(w, err)
		}
		total = total.Combine(stats)
		batch = batch[:0]
		return nil
	}
	for {
		select {
		case p, ok := <-queue:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				o.record(w, total)
				return total, nil
			}
			batch = append(batch, p)
			if len(batch) == o.batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
}

func (o *Orchestrator) explainAll(ctx context.Context, w Worker, all []*tree.Pattern) (store.ExplainStats, error) {
	stop := o.started(w)
	defer stop()

	var total store.ExplainStats
	seq := func(yield func(*tree.Pattern, error) bool) {
		for _, p := range all {
			if !yield(p, nil) {
				return
			}
		}
	}
	for stats, err := range w.Executor.Explain(ctx, seq) {
		if err != nil {
			return total, workerError(w, err)
		}
		total = total.Combine(stats)
	}
	o.record(w, total)
	return total, nil
}

// started charges the worker's thread time until the returned function runs.
func (o *Orchestrator) started(w Worker) func() {
	o.metrics.WorkerStarted()
	t := w.Executor.Measures().Timer(measure.GroupThread, measure.Time)
	t.Start()
	return func() {
		t.Stop()
		o.metrics.WorkerStopped()
	}
}

func (o *Orchestrator) record(w Worker, total store.ExplainStats) {
	ms := w.Executor.Measures()
	ms.SetCount(measure.GroupQueries, measure.Total, int64(w.Executor.NbQueries()))
	ms.SetCount(measure.GroupQueries, measure.BatchNb, int64(w.Executor.NbBatches()))
	ms.SetCount(measure.GroupAnswers, measure.Total, total.Answers)
	ms.Timer(measure.GroupTime, measure.StatsDBTime).Add(total.Elapsed)
	o.logger.Debug("worker done",
		"worker", w.Name,
		"queries", w.Executor.NbQueries(),
		"batches", w.Executor.NbBatches(),
		"answers", total.Answers,
	)
}

func workerError(w Worker, err error) error {
	return fmt.Errorf("%w: %s: %w", apperrors.ErrWorkerFailed, w.Name, err)
}

// finish merges every worker's measurements, successful or not, and folds
// the totals. A failed request reports no statistics.
func (o *Orchestrator) finish(err error, results []store.ExplainStats, start time.Time) (store.ExplainStats, error) {
	o.state.Store(int32(StateDone))
	var total store.ExplainStats
	var queries, batches int64
	for i, w := range o.workers {
		o.measures.MergeFrom(w.Executor.Measures())
		total = total.Combine(results[i])
		queries += int64(w.Executor.NbQueries())
		batches += int64(w.Executor.NbBatches())
	}
	o.measures.SetCount(measure.GroupThreads, measure.ThreadsNb, int64(len(o.workers)))
	o.measures.Timer(measure.GroupTime, measure.ThreadsTime).Add(time.Since(start))
	if err != nil {
		o.logger.Error("parallel explain failed", "error", err)
		return store.ExplainStats{}, err
	}
	o.measures.SetCount(measure.GroupQueries, measure.Total, queries)
	o.measures.SetCount(measure.GroupQueries, measure.BatchNb, batches)
	o.measures.SetCount(measure.GroupAnswers, measure.Total, total.Answers)
	o.measures.Timer(measure.GroupTime, measure.StatsDBTime).Add(total.Elapsed)
	o.logger.Info("parallel explain done",
		"queries", queries,
		"batches", batches,
		"answers", total.Answers,
		"elapsed", time.Since(start),
	)
	return total, nil
}
