// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the stores use. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// NewPool connects a pgx pool using the given config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Schema is the DDL for every table the stores use. EnsureSchema applies
// it idempotently at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	parameters   JSONB NOT NULL,
	counters     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_urls (
	job_id          TEXT NOT NULL,
	url             TEXT NOT NULL,
	source          TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INT NOT NULL DEFAULT 0,
	last_error_kind TEXT NOT NULL DEFAULT '',
	last_attempt_at TIMESTAMPTZ,
	PRIMARY KEY (job_id, url)
);
CREATE INDEX IF NOT EXISTS crawl_urls_claimable
	ON crawl_urls (job_id) WHERE status IN ('pending', 'retrying');

CREATE TABLE IF NOT EXISTS pages (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	word_count   INT NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL,
	archive_uri  TEXT NOT NULL DEFAULT '',
	fetched_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS personas (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	keywords    JSONB NOT NULL DEFAULT '[]',
	embedding   JSONB,
	active      BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS content_mappings (
	id         BIGSERIAL PRIMARY KEY,
	page_id    TEXT NOT NULL,
	persona_id TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	method     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	verified   BOOLEAN NOT NULL DEFAULT FALSE,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS content_mappings_page_active
	ON content_mappings (page_id) WHERE active;

CREATE TABLE IF NOT EXISTS analysis_spend (
	id         BIGSERIAL PRIMARY KEY,
	org_id     TEXT NOT NULL,
	spent_at   TIMESTAMPTZ NOT NULL,
	usd        DOUBLE PRECISION NOT NULL,
	tokens     INT NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_spend_org_time ON analysis_spend (org_id, spent_at);
`

// EnsureSchema creates any missing tables.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
