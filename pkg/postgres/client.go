// Package postgres holds the lib/pq connection pool that run reports are
// written through. Every write runs inside a transaction.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

type Client struct {
	db   *sql.DB
	addr string
}

// New opens the pool and pings the server. The pool is closed again when the
// server does not answer.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres %s: %w", addr, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	c := &Client{db: db, addr: addr}
	if err := c.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the server within a short timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging postgres %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Migrate applies ddl in order, all or nothing.
func (c *Client) Migrate(ctx context.Context, ddl ...string) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// InTx runs fn in a transaction, committed only when fn succeeds.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction on %s: %w", c.addr, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction on %s: %w", c.addr, err)
	}
	return nil
}
