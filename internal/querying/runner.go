// Package querying runs the querying modes of the command line: per-pattern
// answers, answer statistics, batched querying and single or parallel
// explain.
package querying

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/compiler"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/executor"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/orchestrator"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/queryfilter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/record"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/tree"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/metrics"
)

// Deps are the collaborators of a Runner. Stores[i] serves the i-th
// configured collection; Navigators is either empty, of length one (shared
// factory) or matched to Stores.
type Deps struct {
	Stores     []store.Store
	Navigators []summary.Factory
	Cache      queryfilter.Cache
	Metrics    *metrics.Metrics
	Measures   *measure.Set
	Outputs    *Outputs
	Stdout     io.Writer
}

type Runner struct {
	cfg        *config.Config
	stores     []store.Store
	navs       []summary.Factory
	partitions []partition.Partition
	selectors  []executor.Selector
	filters    []*queryfilter.Filter
	measures   *measure.Set
	metrics    *metrics.Metrics
	out        *Outputs
	stdout     io.Writer
	logger     *slog.Logger
}

func New(cfg *config.Config, d Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(d.Stores) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidConfig, apperrors.StageConfig, "no store to query")
	}
	r := &Runner{
		cfg:      cfg,
		stores:   d.Stores,
		measures: d.Measures,
		metrics:  d.Metrics,
		out:      d.Outputs,
		stdout:   d.Stdout,
		logger:   slog.Default().With("component", "querying", "mode", cfg.Querying.Mode),
	}
	if r.measures == nil {
		r.measures = measure.NewSet()
	}
	if r.out == nil {
		r.out = NewOutputs("")
	}
	if r.stdout == nil {
		r.stdout = os.Stdout
	}

	switch len(d.Navigators) {
	case 0:
		d.Navigators = []summary.Factory{func() summary.Navigator { return summary.Constant(summary.DefaultTypes) }}
		fallthrough
	case 1:
		for range d.Stores {
			r.navs = append(r.navs, d.Navigators[0])
		}
	case len(d.Stores):
		r.navs = d.Navigators
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"%d summaries for %d collections", len(d.Navigators), len(d.Stores))
	}

	for i, st := range d.Stores {
		p := partition.Null()
		if def := cfg.PartitionFor(i); def != "" {
			var err error
			if p, err = partition.Parse(def); err != nil {
				return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig, "%v", err)
			}
		}
		r.partitions = append(r.partitions, p)

		var sel executor.Selector
		if cfg.Query.Filter != config.FilterNone {
			opts := []queryfilter.Option{queryfilter.WithMetrics(d.Metrics)}
			if d.Cache != nil {
				opts = append(opts, queryfilter.WithCache(d.Cache, cfg.Redis.CacheTTL))
			}
			qf, err := queryfilter.New(cfg.Query.Filter, st, opts...)
			if err != nil {
				return nil, err
			}
			sel = qf
			r.filters = append(r.filters, qf)
		}
		r.selectors = append(r.selectors, sel)
	}
	return r, nil
}

// Measures returns the set every mode writes to.
func (r *Runner) Measures() *measure.Set {
	return r.measures
}

// Run reads patterns, or native filters, from src and runs the configured
// mode.
func (r *Runner) Run(ctx context.Context, src io.Reader) error {
	r.logger.Info("querying started", "collections", len(r.stores), "threads", r.cfg.Query.Threads)
	err := r.run(ctx, src)
	r.recordFilterCounts()
	return err
}

func (r *Runner) run(ctx context.Context, src io.Reader) error {
	switch r.cfg.Querying.Mode {
	case config.ModeEach:
		return r.each(ctx, tree.Decode(src))
	case config.ModeStats:
		return r.stats(ctx, tree.Decode(src))
	case config.ModeQuery:
		if r.cfg.Querying.Natives {
			e := r.newExecutor(0, r.measures)
			return r.consume(e, e.ExecuteNatives(ctx, DecodeNatives(src)))
		}
		e := r.newExecutor(0, r.measures)
		return r.consume(e, e.Execute(ctx, tree.Decode(src)))
	case config.ModeExplain:
		return r.explain(ctx, tree.Decode(src))
	case config.ModeExplainColls:
		return r.explainCollections(ctx, tree.Decode(src))
	default:
		return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"invalid querying.mode %q", r.cfg.Querying.Mode)
	}
}

// recordFilterCounts adds the patterns kept and dropped by the answer
// filters to the reformulation measures.
func (r *Runner) recordFilterCounts() {
	if len(r.filters) == 0 {
		return
	}
	var kept, dropped int64
	for _, qf := range r.filters {
		k, d := qf.Counts()
		kept += k
		dropped += d
	}
	r.measures.SetCount(measure.GroupPatterns, measure.Kept, kept)
	r.measures.SetCount(measure.GroupPatterns, measure.Dropped, dropped)
}

func (r *Runner) newExecutor(i int, ms *measure.Set) *executor.Executor {
	opts := []executor.Option{executor.WithMetrics(r.metrics)}
	if r.selectors[i] != nil {
		opts = append(opts, executor.WithSelector(r.selectors[i]))
	}
	copts := compiler.Options{
		CheckTerminalLeaf: r.cfg.Query.CheckTerminalLeaf,
		PartitionID:       r.cfg.Query.PartitionID,
		Partition:         r.partitions[i],
	}
	cfg := executor.Config{
		BatchSize:              r.cfg.Query.BatchSize,
		InhibitBatchStreamTime: r.cfg.Query.InhibitBatchStreamTime,
	}
	return executor.New(r.stores[i], copts, r.navs[i](), cfg, ms, opts...)
}

func (r *Runner) writers(names ...string) (map[string]io.Writer, error) {
	ws := make(map[string]io.Writer, len(names))
	for _, name := range names {
		w, err := r.out.Writer(name)
		if err != nil {
			return nil, err
		}
		ws[name] = w
	}
	return ws, nil
}

// answerKey identifies a record for unique-answer counting: its record id
// under partitionID, else its _id, else its whole text.
func answerKey(doc record.Document, partitionID string) string {
	if partitionID != "" {
		if rid, ok := record.RecordID(doc, partitionID); ok {
			return "rid:" + strconv.FormatInt(rid, 10)
		}
	}
	if id, ok := doc.Get("_id"); ok {
		return "id:" + id.String()
	}
	return doc.String()
}

// lineWriter writes lines to named outputs and keeps the first error.
type lineWriter struct {
	ws  map[string]io.Writer
	err error
}

func (lw *lineWriter) println(name string, v any) {
	if lw.err != nil {
		return
	}
	if _, err := fmt.Fprintln(lw.ws[name], v); err != nil {
		lw.err = fmt.Errorf("writing %s: %w", name, err)
	}
}

// each submits patterns one at a time and sorts them by whether they have
// answers.
func (r *Runner) each(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) error {
	ws, err := r.writers(OutResults, OutQueryEmpty, OutQueryNonEmpty, OutNativeEmpty, OutNativeNonEmpty, OutAnswers, OutAnswersUnique)
	if err != nil {
		return err
	}
	e := r.newExecutor(0, r.measures)
	out := &lineWriter{ws: ws}
	seen := make(map[string]struct{})
	var empty, nonEmpty, answers int64
	for each, err := range e.ExecuteEach(ctx, patterns) {
		if err != nil {
			return err
		}
		n := 0
		for doc, err := range each.Answers {
			if err != nil {
				return fmt.Errorf("pattern %s: %w", each.Pattern, err)
			}
			n++
			line := doc.String()
			out.println(OutAnswers, line)
			if key := answerKey(doc, r.cfg.Query.PartitionID); !has(seen, key) {
				seen[key] = struct{}{}
				out.println(OutAnswersUnique, line)
			}
		}
		answers += int64(n)
		out.println(OutResults, fmt.Sprintf("%d\t%s", n, each.Pattern))
		if n == 0 {
			empty++
			out.println(OutQueryEmpty, each.Pattern)
			out.println(OutNativeEmpty, filter.JSON(each.Filter))
		} else {
			nonEmpty++
			out.println(OutQueryNonEmpty, each.Pattern)
			out.println(OutNativeNonEmpty, filter.JSON(each.Filter))
		}
		if out.err != nil {
			return out.err
		}
	}
	r.measures.SetCount(measure.GroupPatterns, measure.Empty, empty)
	r.measures.SetCount(measure.GroupPatterns, measure.NonEmpty, nonEmpty)
	r.measures.SetCount(measure.GroupPatterns, measure.Total, empty+nonEmpty)
	r.measures.SetCount(measure.GroupAnswers, measure.Total, answers)
	r.measures.SetCount(measure.GroupAnswers, measure.Unique, int64(len(seen)))
	return nil
}

func has(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// allInPartition counts the documents of the i-th collection whose record id
// falls in its partition.
func (r *Runner) allInPartition(ctx context.Context, i int) (int64, error) {
	prefix := r.partitions[i].PrefixPattern()
	if prefix == nil {
		prefix = tree.New(tree.Exists(false))
	}
	e := r.newExecutor(i, measure.NewSet())
	stats, err := e.ExplainBatch(ctx, []*tree.Pattern{prefix})
	if err != nil {
		return 0, err
	}
	return stats.Answers, nil
}

// stats counts documents, documents per partition and patterns with and
// without answers.
func (r *Runner) stats(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) error {
	n, err := r.stores[0].RecordCount(ctx)
	if err != nil {
		return err
	}
	r.measures.SetCount(measure.GroupStats, measure.DocumentsNb, n)

	for i, p := range r.partitions {
		if p.IsNull() {
			continue
		}
		n, err := r.allInPartition(ctx, i)
		if err != nil {
			return fmt.Errorf("partition %s: %w", p.Name, err)
		}
		r.measures.SetCount(measure.GroupStats, "partition."+p.Name+"."+measure.DocumentsNb, n)
	}

	e := r.newExecutor(0, r.measures)
	var total, empty int64
	for p, err := range patterns {
		if err != nil {
			return err
		}
		ok, err := e.HasAnswer(ctx, p)
		if err != nil {
			return fmt.Errorf("pattern %s: %w", p, err)
		}
		total++
		if !ok {
			empty++
		}
	}
	r.measures.SetCount(measure.GroupStats, measure.QueriesNb, total)
	r.measures.SetCount(measure.GroupStats, measure.QueriesEmptyNb, empty)
	r.measures.SetCount(measure.GroupStats, measure.QueriesNonEmptyNb, total-empty)
	return nil
}

// consume drains an answer stream under the evaluation timers. Time spent
// assembling batches is excluded from the stream timers when inhibition is on.
func (r *Runner) consume(e *executor.Executor, answers iter.Seq2[record.Document, error]) error {
	ws, err := r.writers(OutAnswers)
	if err != nil {
		return err
	}
	out := ws[OutAnswers]
	if r.cfg.Querying.DisplayAnswers {
		out = io.MultiWriter(out, r.stdout)
	}
	evalTotal := r.measures.Timer(measure.GroupTime, measure.EvalTotal)
	streamTotal := r.measures.Timer(measure.GroupTime, measure.StreamTotal)
	streamNext := r.measures.Timer(measure.GroupTime, measure.StreamNext)
	action := r.measures.Timer(measure.GroupTime, measure.StreamAction)

	seen := make(map[string]struct{})
	var total int64
	measure.StartAll(evalTotal, streamTotal, streamNext)
	for doc, err := range answers {
		streamNext.Stop()
		if err != nil {
			measure.StopAll(evalTotal, streamTotal)
			return err
		}
		action.Start()
		total++
		seen[answerKey(doc, r.cfg.Query.PartitionID)] = struct{}{}
		if _, err := fmt.Fprintln(out, doc); err != nil {
			measure.StopAll(action, evalTotal, streamTotal)
			return fmt.Errorf("writing %s: %w", OutAnswers, err)
		}
		action.Stop()
		streamNext.Start()
	}
	measure.StopAll(streamNext, evalTotal, streamTotal)

	r.measures.SetCount(measure.GroupAnswers, measure.Total, total)
	r.measures.SetCount(measure.GroupAnswers, measure.Unique, int64(len(seen)))
	r.measures.SetCount(measure.GroupQueries, measure.Total, int64(e.NbQueries()))
	r.measures.SetCount(measure.GroupQueries, measure.BatchNb, int64(e.NbBatches()))
	return nil
}

// explain runs on the calling goroutine with one thread, through the
// orchestrator otherwise.
func (r *Runner) explain(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) error {
	if threads := r.cfg.Query.Threads; threads > 1 {
		workers, err := orchestrator.NewWorkers(orchestrator.ThreadNames(threads), r.factory(func(int) int { return 0 }))
		if err != nil {
			return err
		}
		return r.orchestrate(workers, func(o *orchestrator.Orchestrator) (store.ExplainStats, error) {
			return o.Explain(ctx, patterns)
		})
	}

	e := r.newExecutor(0, r.measures)
	evalTotal := r.measures.Timer(measure.GroupTime, measure.EvalTotal)
	var total store.ExplainStats
	evalTotal.Start()
	for stats, err := range e.Explain(ctx, patterns) {
		if err != nil {
			evalTotal.Stop()
			return err
		}
		total = total.Combine(stats)
	}
	evalTotal.Stop()
	r.measures.SetCount(measure.GroupAnswers, measure.Total, total.Answers)
	r.measures.SetCount(measure.GroupQueries, measure.Total, int64(e.NbQueries()))
	r.measures.SetCount(measure.GroupQueries, measure.BatchNb, int64(e.NbBatches()))
	r.measures.Timer(measure.GroupTime, measure.StatsDBTime).Add(total.Elapsed)
	fmt.Fprintln(r.stdout, total)
	return nil
}

// explainCollections explains the whole sequence once per configured
// collection and partition, in parallel.
func (r *Runner) explainCollections(ctx context.Context, patterns iter.Seq2[*tree.Pattern, error]) error {
	names := make([]string, len(r.stores))
	for i, st := range r.stores {
		names[i] = st.Name() + "/"
		if p := r.partitions[i]; !p.IsNull() {
			names[i] += p.Name + "/"
		}
		logger.WithPartition("querying", st.Name(), r.partitions[i].Name).Debug("collection worker", "worker", names[i])
	}
	workers, err := orchestrator.NewWorkers(names, r.factory(func(i int) int { return i }))
	if err != nil {
		return err
	}
	return r.orchestrate(workers, func(o *orchestrator.Orchestrator) (store.ExplainStats, error) {
		return o.ExplainAll(ctx, patterns)
	})
}

func (r *Runner) factory(storeOf func(worker int) int) orchestrator.Factory {
	return func(i int, ms *measure.Set) (*executor.Executor, error) {
		return r.newExecutor(storeOf(i), ms), nil
	}
}

func (r *Runner) orchestrate(workers []orchestrator.Worker, run func(*orchestrator.Orchestrator) (store.ExplainStats, error)) error {
	o, err := orchestrator.New(r.cfg.Query.BatchSize, workers, r.measures, r.metrics)
	if err != nil {
		return err
	}
	total, err := run(o)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.stdout, total)
	return nil
}

// DecodeNatives lazily reads one extended-JSON filter per non-blank line.
// Lines starting with '#' are skipped.
func DecodeNatives(src io.Reader) iter.Seq2[filter.Filter, error] {
	return func(yield func(filter.Filter, error) bool) {
		sc := bufio.NewScanner(src)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := sc.Text()
			if len(text) == 0 || text[0] == '#' {
				continue
			}
			f, err := filter.Decode(text)
			if err != nil {
				yield(nil, fmt.Errorf("native line %d: %w", line, err))
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, fmt.Errorf("reading native filters: %w", err))
		}
	}
}
