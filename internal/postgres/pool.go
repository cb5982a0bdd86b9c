// Package postgres builds instrumented pgx connection pools.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Option configures NewPool.
type Option func(*poolOptions)

type poolOptions struct {
	observer QueryObserver
	slow     time.Duration
	maxConns int32
}

// WithQueryObserver reports every finished query to o.
func WithQueryObserver(o QueryObserver) Option {
	return func(p *poolOptions) { p.observer = o }
}

// WithSlowQueryThreshold logs only failed queries and those slower than d.
// Zero logs every query.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(p *poolOptions) { p.slow = d }
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) Option {
	return func(p *poolOptions) { p.maxConns = n }
}

// NewPool parses dsn, installs the otelpgx and logging query tracers, opens
// the pool and pings it.
func NewPool(ctx context.Context, dsn string, opts ...Option) (*pgxpool.Pool, error) {
	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}
	cfg.ConnConfig.Tracer = &queryTracer{
		inner:    otelpgx.NewTracer(),
		observer: o.observer,
		slow:     o.slow,
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
