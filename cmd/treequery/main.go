package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/measure"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/queryfilter"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/querying"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/report"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/store/mongostore"
	"github.com/Adithya-Monish-Kumar-K/tree-query/internal/summary"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/metrics"
	pkgmongo "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/mongo"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/tree-query/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	mode := flag.String("mode", "", "querying mode (each|stats|query|explain|explaincolls)")
	patterns := flag.String("patterns", "", "patterns file, - for stdin")
	threads := flag.Int("threads", 0, "explain threads")
	flushCache := flag.Bool("flush-cache", false, "drop cached answer existence before running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(apperrors.ExitCode(apperrors.New(apperrors.ErrInvalidConfig, apperrors.StageConfig, err.Error())))
	}
	if *mode != "" {
		cfg.Querying.Mode = *mode
	}
	if *patterns != "" {
		cfg.Querying.Patterns = *patterns
	}
	if *threads > 0 {
		cfg.Query.Threads = *threads
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(apperrors.ExitCode(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, *flushCache)
	stop()
	if err != nil {
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(ctx context.Context, cfg *config.Config, flushCache bool) error {
	runID := report.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("mode", cfg.Querying.Mode)
	log.Info("starting tree query", "collections", cfg.Mongo.Collections, "threads", cfg.Query.Threads)

	m := metrics.New(nil)
	checker := health.NewChecker()
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, checker.Handler())
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	ms := measure.NewSet()
	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		log.Error("failed to open stores", "error", err)
		return err
	}
	defer closeStores()
	for _, st := range stores {
		checker.Require(st.Name(), func(ctx context.Context) error {
			_, err := st.RecordCount(ctx)
			return err
		})
	}

	navs, err := loadSummaries(cfg, ms)
	if err != nil {
		log.Error("failed to load summaries", "error", err)
		return apperrors.New(apperrors.ErrInvalidConfig, apperrors.StageConfig, err.Error())
	}

	var cache *pkgredis.Client
	if cfg.Redis.Enabled && cfg.Query.Filter != config.FilterNone {
		cache, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, answer caching disabled", "error", err)
		} else {
			defer cache.Close()
			checker.Optional("redis", cache.Ping)
			if flushCache {
				n, err := cache.FlushPrefix(ctx, queryfilter.KeyPrefix)
				if err != nil {
					log.Warn("answer cache flush failed", "error", err)
				} else {
					log.Info("answer cache flushed", "keys", n)
				}
			}
			log.Info("answer cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	outputs := querying.NewOutputs(cfg.Querying.OutputPattern)
	deps := querying.Deps{
		Stores:     stores,
		Navigators: navs,
		Metrics:    m,
		Measures:   ms,
		Outputs:    outputs,
		Stdout:     os.Stdout,
	}
	if cache != nil {
		deps.Cache = cache
	}
	runner, err := querying.New(cfg, deps)
	if err != nil {
		log.Error("failed to create runner", "error", err)
		return err
	}

	if cfg.Querying.Mode == config.ModeStats {
		for _, st := range stores {
			if err := store.WriteInfos(ctx, os.Stdout, st); err != nil {
				log.Error("failed to describe store", "store", st.Name(), "error", err)
				return err
			}
		}
	}

	start := time.Now()
	runErr := runPatterns(ctx, cfg, runner)
	if err := outputs.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		log.Error("querying failed", "error", runErr)
	} else {
		log.Info("querying done", "duration", time.Since(start))
	}

	r := report.Report{
		RunID:       runID,
		Mode:        cfg.Querying.Mode,
		Collections: cfg.Mongo.Collections,
		StartedAt:   start,
		Duration:    time.Since(start),
		Measures:    ms.Snapshot(),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if err := publish(ctx, cfg, r); err != nil {
		log.Warn("report not fully published", "error", err)
	}
	return runErr
}

func runPatterns(ctx context.Context, cfg *config.Config, runner *querying.Runner) error {
	var src io.Reader = os.Stdin
	if p := cfg.Querying.Patterns; p != "" && p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.StageConfig, "opening patterns: %v", err)
		}
		defer f.Close()
		src = f
	}
	return runner.Run(ctx, src)
}

// openStores opens one store per configured collection, in memory when the
// URI uses the memory scheme.
func openStores(ctx context.Context, cfg *config.Config) ([]store.Store, func(), error) {
	stores := make([]store.Store, 0, len(cfg.Mongo.Collections))
	if strings.HasPrefix(cfg.Mongo.URI, memstore.Scheme) {
		for _, name := range cfg.Mongo.Collections {
			st, err := memstore.Open(cfg.Mongo.URI, cfg.Mongo.Database+"."+name)
			if err != nil {
				return nil, nil, err
			}
			stores = append(stores, st)
		}
		return stores, func() {}, nil
	}

	client, err := pkgmongo.New(ctx, cfg.Mongo)
	if err != nil {
		return nil, nil, apperrors.Newf(apperrors.ErrStore, apperrors.StageConfig, "%v", err)
	}
	for _, name := range cfg.Mongo.Collections {
		stores = append(stores, mongostore.New(client, name))
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			slog.Error("mongo disconnect error", "error", err)
		}
	}
	return stores, closeFn, nil
}

// loadSummaries loads one navigator factory per collection, timing the whole
// load under summary.create.
func loadSummaries(cfg *config.Config, ms *measure.Set) ([]summary.Factory, error) {
	timer := ms.Timer(measure.GroupTime, measure.SummaryCreate)
	timer.Start()
	defer timer.Stop()

	if len(cfg.Summary.Paths) == 0 {
		f, err := summary.Load(cfg.Summary.Path, cfg.Summary.Type)
		if err != nil {
			return nil, err
		}
		return []summary.Factory{f}, nil
	}
	navs := make([]summary.Factory, len(cfg.Mongo.Collections))
	for i := range navs {
		f, err := summary.Load(cfg.SummaryFor(i), cfg.Summary.Type)
		if err != nil {
			return nil, err
		}
		navs[i] = f
	}
	return navs, nil
}

// publish sends r to the measures output and to the enabled report sinks.
func publish(ctx context.Context, cfg *config.Config, r report.Report) error {
	var sinks []report.Sink
	switch out := cfg.Querying.OutputMeasures; out {
	case "":
	case "-":
		sinks = append(sinks, report.WriterSink{W: os.Stdout})
	default:
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating measures output: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, report.WriterSink{W: f})
	}

	if cfg.Report.Kafka {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.ReportsTopic)
		defer producer.Close()
		sinks = append(sinks, report.KafkaSink{Producer: producer})
	}
	if cfg.Report.Postgres {
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, report not stored", "error", err)
		} else {
			defer client.Close()
			sink := report.PostgresSink{Client: client}
			if err := sink.EnsureSchema(ctx); err != nil {
				return err
			}
			sinks = append(sinks, sink)
		}
	}
	return report.Publish(ctx, r, sinks...)
}
