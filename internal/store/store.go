// Package store defines the backing-store contract used by the executor: a
// collection that answers native filters with documents or with execution
// statistics.
package store

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/record"
)

// ExplainStats summarises the execution of one request.
type ExplainStats struct {
	Answers int64
	Elapsed time.Duration
}

// Combine sums two statistics.
func (s ExplainStats) Combine(o ExplainStats) ExplainStats {
	return ExplainStats{
		Answers: s.Answers + o.Answers,
		Elapsed: s.Elapsed + o.Elapsed,
	}
}

func (s ExplainStats) String() string {
	return fmt.Sprintf("answers=%d time=%s", s.Answers, s.Elapsed)
}

// Store is one collection of the backing store. Implementations are safe for
// concurrent use by several executors.
type Store interface {
	// Name identifies the collection, as "database.collection".
	Name() string
	// Find streams the documents matching f.
	Find(ctx context.Context, f filter.Filter) iter.Seq2[record.Document, error]
	// Explain runs f and reports its statistics instead of its documents.
	Explain(ctx context.Context, f filter.Filter) (ExplainStats, error)
	// HasAnswer reports whether at least one document matches f.
	HasAnswer(ctx context.Context, f filter.Filter) (bool, error)
	// RecordCount returns the number of documents of the collection.
	RecordCount(ctx context.Context) (int64, error)
}

// WriteInfos prints a short description of s.
func WriteInfos(ctx context.Context, w io.Writer, s Store) error {
	n, err := s.RecordCount(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\nnb docs: %d\n", s.Name(), n)
	return err
}
