// Package memstore is an in-memory Store evaluating filters over decoded
// documents. It backs "memory://" URIs and the tests.
package memstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/record"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
)

// Scheme prefixes URIs served by this package.
const Scheme = "memory://"

// Store holds an immutable list of documents.
type Store struct {
	name     string
	docs     []record.Document
	requests atomic.Int64
	logger   *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a store over docs.
func New(name string, docs []record.Document) *Store {
	return &Store{
		name:   name,
		docs:   docs,
		logger: slog.Default().With("component", "memstore", "collection", name),
	}
}

// Open loads the JSON-lines file named by a "memory://<path>" URI. A "%s"
// in the path stands for the collection part of name ("database.collection").
func Open(uri, name string) (*Store, error) {
	collection := name
	if _, c, ok := strings.Cut(name, "."); ok {
		collection = c
	}
	path := strings.ReplaceAll(strings.TrimPrefix(uri, Scheme), "%s", collection)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrStore, apperrors.StageConfig, "reading %s: %v", path, err)
	}
	docs, err := Parse(data)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrStore, apperrors.StageConfig, "%s: %v", path, err)
	}
	s := New(name, docs)
	s.logger.Info("memory store loaded", "path", path, "documents", len(docs))
	return s, nil
}

// Parse decodes one extended-JSON document per line. Blank lines are skipped.
func Parse(data []byte) ([]record.Document, error) {
	var docs []record.Document
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		doc, err := record.FromExtJSON(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) Name() string {
	return s.name
}

// Requests returns the number of Find, Explain and HasAnswer calls served.
func (s *Store) Requests() int64 {
	return s.requests.Load()
}

func (s *Store) Find(ctx context.Context, f filter.Filter) iter.Seq2[record.Document, error] {
	s.requests.Add(1)
	return func(yield func(record.Document, error) bool) {
		for _, doc := range s.docs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			ok, err := Match(doc, f)
			if err != nil {
				yield(nil, apperrors.Newf(apperrors.ErrStore, apperrors.StageBatch, "%v", err))
				return
			}
			if ok && !yield(doc, nil) {
				return
			}
		}
	}
}

func (s *Store) Explain(ctx context.Context, f filter.Filter) (store.ExplainStats, error) {
	s.requests.Add(1)
	start := time.Now()
	var n int64
	for _, doc := range s.docs {
		if err := ctx.Err(); err != nil {
			return store.ExplainStats{}, err
		}
		ok, err := Match(doc, f)
		if err != nil {
			return store.ExplainStats{}, apperrors.Newf(apperrors.ErrStore, apperrors.StageExplain, "%v", err)
		}
		if ok {
			n++
		}
	}
	return store.ExplainStats{Answers: n, Elapsed: time.Since(start)}, nil
}

func (s *Store) HasAnswer(ctx context.Context, f filter.Filter) (bool, error) {
	s.requests.Add(1)
	for _, doc := range s.docs {
		ok, err := Match(doc, f)
		if err != nil {
			return false, apperrors.Newf(apperrors.ErrStore, apperrors.StageBatch, "%v", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, ctx.Err()
}

func (s *Store) RecordCount(context.Context) (int64, error) {
	return int64(len(s.docs)), nil
}
