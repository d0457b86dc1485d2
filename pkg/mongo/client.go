// Package mongo wraps the MongoDB driver client shared by every executor of
// a run. The client is created once, handed to each store explicitly and
// closed by its owner.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/tree-query/pkg/resilience"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Client struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    config.MongoConfig
}

// New connects to cfg.URI and checks the server with a ping, retrying with
// backoff while the server is unreachable.
func New(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	err = resilience.Retry(ctx, "mongo-ping", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	slog.Default().With("component", "mongo").Info("connected to mongo",
		"database", cfg.Database,
		"collections", cfg.Collections,
	)
	return &Client{client: client, db: client.Database(cfg.Database), cfg: cfg}, nil
}

// Collection returns a handle on one collection of the configured database.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Database returns the configured database.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Config returns the configuration the client was created with.
func (c *Client) Config() config.MongoConfig {
	return c.cfg
}

// RunCommand runs a database command and decodes its reply into out.
func (c *Client) RunCommand(ctx context.Context, cmd bson.D, out any) error {
	if err := c.db.RunCommand(ctx, cmd).Decode(out); err != nil {
		return fmt.Errorf("running %s: %w", cmd[0].Key, err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
