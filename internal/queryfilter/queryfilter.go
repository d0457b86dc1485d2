// Package queryfilter keeps only the compiled patterns that have answers, or
// only those that have none. Answer existence is asked to the store and
// optionally cached in Redis.
package queryfilter

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix starts every answer-cache key.
const KeyPrefix = "treequery:answer:"

// Cache stores answer existence by key. *pkgredis.Client implements it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Filter is safe for concurrent use by several executors.
type Filter struct {
	keepEmpty bool
	store     store.Store
	cache     Cache
	ttl       time.Duration
	breaker   *resilience.CircuitBreaker
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *slog.Logger

	kept    atomic.Int64
	dropped atomic.Int64
}

// Option customises a Filter.
type Option func(*Filter)

// WithCache caches answers in c for ttl behind a circuit breaker. Cache
// failures fall back to the store.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(f *Filter) {
		f.cache = c
		f.ttl = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// New returns the filter of mode, config.FilterEmpty or config.FilterNoEmpty.
func New(mode string, st store.Store, opts ...Option) (*Filter, error) {
	f := &Filter{
		store:  st,
		logger: slog.Default().With("component", "query-filter", "mode", mode),
	}
	switch mode {
	case config.FilterEmpty:
		f.keepEmpty = true
	case config.FilterNoEmpty:
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig,
			"invalid query filter %q", mode)
	}
	for _, o := range opts {
		o(f)
	}
	if f.cache != nil {
		f.breaker = resilience.NewCircuitBreaker("answer-cache", resilience.BreakerConfig{
			FailureThreshold: 3,
			CoolDown:         10 * time.Second,
			OnStateChange: func(name string, to resilience.State) {
				f.metrics.SetBreakerState(name, int(to))
			},
		})
	}
	return f, nil
}

// Keep reports whether f must be submitted.
func (qf *Filter) Keep(ctx context.Context, f filter.Filter) (bool, error) {
	has, err := qf.HasAnswer(ctx, f)
	if err != nil {
		return false, err
	}
	keep := has != qf.keepEmpty
	if keep {
		qf.kept.Add(1)
	} else {
		qf.dropped.Add(1)
	}
	return keep, nil
}

// Counts returns the number of filters kept and dropped so far.
func (qf *Filter) Counts() (kept, dropped int64) {
	return qf.kept.Load(), qf.dropped.Load()
}

// HasAnswer asks the cache, then the store. Concurrent lookups of the same
// filter share one store request.
func (qf *Filter) HasAnswer(ctx context.Context, f filter.Filter) (bool, error) {
	key := qf.key(f)
	if has, ok := qf.cached(ctx, key); ok {
		return has, nil
	}
	v, err, _ := qf.group.Do(key, func() (any, error) {
		has, err := qf.store.HasAnswer(ctx, f)
		if err != nil {
			return false, err
		}
		qf.remember(ctx, key, has)
		return has, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (qf *Filter) key(f filter.Filter) string {
	sum := sha256.Sum256([]byte(qf.store.Name() + "|" + filter.Canonical(f)))
	return fmt.Sprintf("%s%x", KeyPrefix, sum[:16])
}

func (qf *Filter) cached(ctx context.Context, key string) (has, ok bool) {
	if qf.cache == nil {
		return false, false
	}
	var value string
	err := qf.breaker.Execute(func() error {
		v, err := qf.cache.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		value = v
		return err
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		qf.logger.Warn("answer cache get failed", "key", key, "error", err)
	}
	switch value {
	case "1":
		has, ok = true, true
	case "0":
		has, ok = false, true
	}
	qf.metrics.CacheLookup(ok)
	return has, ok
}

func (qf *Filter) remember(ctx context.Context, key string, has bool) {
	if qf.cache == nil {
		return
	}
	value := "0"
	if has {
		value = "1"
	}
	err := qf.breaker.Execute(func() error {
		return qf.cache.Set(ctx, key, value, qf.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		qf.logger.Warn("answer cache set failed", "key", key, "error", err)
	}
}
