// Package postgres opens the lib/pq connection pool used for report
// snapshots and creates the schema on first use.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	_ "github.com/lib/pq"
)

// Schema is applied by Migrate. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS report_snapshots (
	run_id      UUID PRIMARY KEY,
	kind        TEXT        NOT NULL,
	corpus      TEXT        NOT NULL,
	params      JSONB       NOT NULL,
	result      JSONB       NOT NULL,
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	request_id  TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS report_snapshots_kind_created_idx
	ON report_snapshots (kind, created_at DESC);
`

type Client struct {
	DB *sql.DB
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

// Migrate creates the report tables if they do not exist.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}
