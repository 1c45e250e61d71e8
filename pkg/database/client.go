// Package database provides the PostgreSQL connection pool, embedded schema
// migrations, and health reporting shared by all services.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/config"
)

// Client wraps the pgx connection pool. The pool serves queries only; the
// notification listener opens its own dedicated connection with the same
// DSN (see pkg/events).
type Client struct {
	pool *pgxpool.Pool
	dsn  string
	log  *slog.Logger
}

// New connects, verifies the connection, and applies embedded migrations
// when cfg.ShouldMigrate().
func New(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	dsn := cfg.DSN()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c := &Client{
		pool: pool,
		dsn:  dsn,
		log:  slog.With("component", "database"),
	}

	if cfg.ShouldMigrate() {
		if err := c.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	c.log.Info("Database client ready",
		"max_conns", cfg.MaxConns,
		"auto_migrate", cfg.ShouldMigrate())
	return c, nil
}

// Pool returns the query pool.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// DSN returns the connection string, for components that need their own
// dedicated connection (the notification listener).
func (c *Client) DSN() string { return c.dsn }

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}
