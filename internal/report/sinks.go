package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/postgres"
	"github.com/lib/pq"
)

// Publisher is the part of *kafka.Producer the Kafka sink needs.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// KafkaSink publishes the report as one JSON event keyed by run id.
type KafkaSink struct {
	Producer Publisher
}

func (KafkaSink) Name() string { return "kafka" }

func (s KafkaSink) Publish(ctx context.Context, r Report) error {
	return s.Producer.Publish(ctx, r.RunID, r)
}

const runReportsTable = `
CREATE TABLE IF NOT EXISTS run_reports (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	collections TEXT[] NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	error       TEXT,
	measures    JSONB NOT NULL
)`

const runMeasuresTable = `
CREATE TABLE IF NOT EXISTS run_measures (
	run_id   TEXT NOT NULL REFERENCES run_reports(run_id) ON DELETE CASCADE,
	grp      TEXT NOT NULL,
	name     TEXT NOT NULL,
	is_timer BOOLEAN NOT NULL,
	value    BIGINT NOT NULL,
	PRIMARY KEY (run_id, grp, name)
)`

// PostgresSink stores the report in run_reports and one row per measure in
// run_measures, in a single transaction.
type PostgresSink struct {
	Client *postgres.Client
}

func (PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the report tables when missing.
func (s PostgresSink) EnsureSchema(ctx context.Context) error {
	if err := s.Client.Migrate(ctx, runReportsTable, runMeasuresTable); err != nil {
		return fmt.Errorf("creating report tables: %w", err)
	}
	return nil
}

func (s PostgresSink) Publish(ctx context.Context, r Report) error {
	measures, err := json.Marshal(r.Measures)
	if err != nil {
		return fmt.Errorf("encoding measures: %w", err)
	}
	return s.Client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_reports (run_id, mode, collections, started_at, duration_ms, error, measures)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
			r.RunID, r.Mode, pq.Array(r.Collections), r.StartedAt, r.Duration.Milliseconds(), r.Error, measures,
		)
		if err != nil {
			return fmt.Errorf("inserting run %s: %w", r.RunID, err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_measures (run_id, grp, name, is_timer, value) VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("preparing measure insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range r.Measures {
			if _, err := stmt.ExecContext(ctx, r.RunID, m.Group, m.Name, m.Timer, m.Value); err != nil {
				return fmt.Errorf("inserting measure %s/%s: %w", m.Group, m.Name, err)
			}
		}
		return nil
	})
}
