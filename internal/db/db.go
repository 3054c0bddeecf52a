// Package db owns the Postgres pool and the schema.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies the schema. Statements are idempotent, so running it on
// every boot is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id              TEXT PRIMARY KEY,
    email           TEXT NOT NULL UNIQUE,
    username        TEXT NOT NULL UNIQUE,
    first_name      TEXT NOT NULL DEFAULT '',
    last_name       TEXT NOT NULL DEFAULT '',
    password_hash   TEXT NOT NULL,
    available       NUMERIC(20,2) NOT NULL DEFAULT 0,
    capital         NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_deposited NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_withdrawn NUMERIC(20,2) NOT NULL DEFAULT 0,
    total_profit    NUMERIC(20,2) NOT NULL DEFAULT 0,
    periodic_profit NUMERIC(20,2) NOT NULL DEFAULT 0,
    referral_code   TEXT NOT NULL DEFAULT '',
    upline          TEXT NOT NULL DEFAULT '',
    legacy_trader   TEXT NOT NULL DEFAULT '',
    rank            TEXT NOT NULL DEFAULT 'silver',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    kind       TEXT NOT NULL,
    amount     NUMERIC(20,2) NOT NULL,
    balance    NUMERIC(20,2) NOT NULL,
    ref        TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_kind_ref
    ON ledger_entries (kind, ref) WHERE ref <> '';
CREATE INDEX IF NOT EXISTS ledger_entries_account
    ON ledger_entries (account_id, id DESC);

CREATE TABLE IF NOT EXISTS investment_positions (
    id               TEXT PRIMARY KEY,
    account_id       TEXT NOT NULL REFERENCES accounts(id),
    principal        NUMERIC(20,2) NOT NULL,
    plan_percent     BIGINT NOT NULL,
    profit           NUMERIC(20,2) NOT NULL,
    started_at       TIMESTAMPTZ NOT NULL,
    duration_seconds BIGINT NOT NULL,
    credited         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS investment_positions_due
    ON investment_positions (credited, started_at);

CREATE TABLE IF NOT EXISTS traders (
    id              TEXT PRIMARY KEY,
    first_name      TEXT NOT NULL DEFAULT '',
    last_name       TEXT NOT NULL DEFAULT '',
    nationality     TEXT NOT NULL DEFAULT '',
    profit_rate     TEXT NOT NULL DEFAULT '',
    average_return  TEXT NOT NULL DEFAULT '',
    followers       TEXT NOT NULL DEFAULT '',
    rr_ratio        TEXT NOT NULL DEFAULT '',
    minimum_capital NUMERIC(20,2) NOT NULL DEFAULT 0,
    image           TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trade_events (
    id         TEXT PRIMARY KEY,
    trader_id  TEXT NOT NULL,
    pair       TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    percent    NUMERIC(20,8),
    amount     NUMERIC(20,2),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS trade_events_trader
    ON trade_events (trader_id, created_at DESC);

CREATE TABLE IF NOT EXISTS copy_subscriptions (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    trader_id  TEXT NOT NULL,
    allocated  NUMERIC(20,2) NOT NULL,
    equity     NUMERIC(20,2) NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    started_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS copy_subscriptions_active
    ON copy_subscriptions (account_id, trader_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS trade_logs (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    event_id   TEXT NOT NULL,
    pair       TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL,
    amount     NUMERIC(20,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS trade_logs_account
    ON trade_logs (account_id, created_at DESC);
`
