package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens the shared Postgres pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

const schema = `
create table if not exists credentials (
    id bigserial primary key,
    app_id text not null,
    secret_key text not null,
    access_token text,
    is_active boolean not null default false,
    updated_at timestamptz not null default now()
);

create table if not exists settings (
    id bigserial primary key,
    max_trades_per_day integer not null default 10,
    max_trades_per_symbol integer not null default 2,
    risk_per_trade_amount numeric(10,2) not null default 500.00,
    risk_reward_ratio numeric(4,2) not null default 2.50,
    breakeven_trigger_r numeric(4,2) not null default 1.25,
    volume_threshold bigint not null default 500000
);

create table if not exists trades (
    id bigserial primary key,
    symbol text not null,
    status text not null default 'PENDING',
    candle_timestamp timestamptz not null,
    candle_open numeric(10,2) not null,
    candle_high numeric(10,2) not null,
    candle_low numeric(10,2) not null,
    candle_close numeric(10,2) not null,
    prev_day_low numeric(10,2) not null,
    entry_level numeric(10,2) not null,
    stop_loss numeric(10,2) not null,
    target_price numeric(10,2) not null,
    quantity integer not null default 0,
    entry_order_id text,
    exit_order_id text,
    actual_entry_price numeric(10,2),
    actual_exit_price numeric(10,2),
    is_breakeven_moved boolean not null default false,
    pnl numeric(10,2),
    exit_reason text,
    created_at timestamptz not null default now()
);

create unique index if not exists trades_entry_order_id_key on trades (entry_order_id) where entry_order_id is not null;
create unique index if not exists trades_exit_order_id_key on trades (exit_order_id) where exit_order_id is not null;
create index if not exists trades_symbol_status_idx on trades (symbol, status);
`

// EnsureSchema creates the tables the pipeline needs. Every entrypoint runs
// it; the statements are idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
