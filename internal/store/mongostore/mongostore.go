// Package mongostore serves a MongoDB collection as a Store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/record"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
	pkgmongo "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/mongo"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/resilience"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is one collection reached through a shared client.
type Store struct {
	client     *pkgmongo.Client
	coll       *mongo.Collection
	batchSize  int32
	timeout    time.Duration
	logger     *slog.Logger
	collection string
}

var _ store.Store = (*Store)(nil)

// New returns the store of collection name. The client stays owned by the
// caller.
func New(client *pkgmongo.Client, name string) *Store {
	cfg := client.Config()
	return &Store{
		client:     client,
		coll:       client.Collection(name),
		batchSize:  cfg.DataBatchSize,
		timeout:    cfg.QueryTimeout,
		collection: name,
		logger:     slog.Default().With("component", "mongostore", "collection", name),
	}
}

func (s *Store) Name() string {
	return s.coll.Database().Name() + "." + s.collection
}

func storeError(stage string, err error) error {
	return apperrors.Newf(apperrors.ErrStore, stage, "%v", err)
}

func (s *Store) Find(ctx context.Context, f filter.Filter) iter.Seq2[record.Document, error] {
	return func(yield func(record.Document, error) bool) {
		doc, err := filter.ToBSON(f)
		if err != nil {
			yield(nil, storeError(apperrors.StageBatch, err))
			return
		}
		opts := options.Find()
		if s.batchSize > 0 {
			opts.SetBatchSize(s.batchSize)
		}
		if s.timeout > 0 {
			opts.SetMaxTime(s.timeout)
		}
		cursor, err := s.coll.Find(ctx, doc, opts)
		if err != nil {
			yield(nil, storeError(apperrors.StageBatch, err))
			return
		}
		defer cursor.Close(context.Background())
		for cursor.Next(ctx) {
			rec, err := record.FromDocument(cursor.Current)
			if err != nil {
				yield(nil, storeError(apperrors.StageBatch, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(nil, storeError(apperrors.StageBatch, err))
		}
	}
}

// explainReply is the part of an executionStats explain reply we read.
type explainReply struct {
	ExecutionStats struct {
		NReturned           int64 `bson:"nReturned"`
		ExecutionTimeMillis int64 `bson:"executionTimeMillis"`
	} `bson:"executionStats"`
}

func (s *Store) Explain(ctx context.Context, f filter.Filter) (store.ExplainStats, error) {
	doc, err := filter.ToBSON(f)
	if err != nil {
		return store.ExplainStats{}, storeError(apperrors.StageExplain, err)
	}
	cmd := bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "find", Value: s.collection},
			{Key: "filter", Value: doc},
		}},
		{Key: "verbosity", Value: "executionStats"},
	}
	var reply explainReply
	err = resilience.WithTimeout(ctx, s.timeout, "explain", func(ctx context.Context) error {
		return s.client.RunCommand(ctx, cmd, &reply)
	})
	if err != nil {
		return store.ExplainStats{}, storeError(apperrors.StageExplain, err)
	}
	stats := store.ExplainStats{
		Answers: reply.ExecutionStats.NReturned,
		Elapsed: time.Duration(reply.ExecutionStats.ExecutionTimeMillis) * time.Millisecond,
	}
	s.logger.Debug("batch explained", "answers", stats.Answers, "db_time", stats.Elapsed)
	return stats, nil
}

func (s *Store) HasAnswer(ctx context.Context, f filter.Filter) (bool, error) {
	doc, err := filter.ToBSON(f)
	if err != nil {
		return false, storeError(apperrors.StageBatch, err)
	}
	err = s.coll.FindOne(ctx, doc, options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).Err()
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return false, nil
	case err != nil:
		return false, storeError(apperrors.StageBatch, err)
	}
	return true, nil
}

func (s *Store) RecordCount(ctx context.Context) (int64, error) {
	n, err := s.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, storeError(apperrors.StageBatch, fmt.Errorf("counting documents: %w", err))
	}
	return n, nil
}
