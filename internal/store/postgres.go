// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PostgresOption configures OpenPostgres.
type PostgresOption func(*postgresOptions)

type postgresOptions struct {
	connectRetries uint64
	retryBase      time.Duration
	maxConns       int32
}

// WithConnectRetries sets how many times the initial ping is retried.
func WithConnectRetries(n uint64) PostgresOption {
	return func(o *postgresOptions) {
		o.connectRetries = n
	}
}

// WithRetryBase sets the base delay of the exponential connect backoff.
func WithRetryBase(d time.Duration) PostgresOption {
	return func(o *postgresOptions) {
		o.retryBase = d
	}
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) PostgresOption {
	return func(o *postgresOptions) {
		o.maxConns = n
	}
}

// OpenPostgres creates a pgx pool for dsn and waits until the server answers
// a ping, retrying with exponential backoff.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*pgxpool.Pool, error) {
	o := postgresOptions{connectRetries: 5, retryBase: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").
			With("operation", "parse database url").
			Wrap(err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(o.connectRetries, retry.NewExponential(o.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("host", cfg.ConnConfig.Host).
			Wrap(err)
	}
	return pool, nil
}
