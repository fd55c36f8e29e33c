// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

// Package store owns the database schema and connection setup.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tune Connect.
type ConnectOptions struct {
	// MaxRetries is the number of retries after the first failed ping.
	MaxRetries uint64
	// InitialBackoff is the first retry delay; it doubles up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// DefaultConnectOptions retry for roughly half a minute.
var DefaultConnectOptions = ConnectOptions{
	MaxRetries:     6,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
}

// Connect opens a pgx pool and waits until the database answers a ping.
// A malformed URL fails immediately; unreachable databases are retried.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultConnectOptions.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultConnectOptions.MaxBackoff
	}

	backoff := retry.NewExponential(opts.InitialBackoff)
	backoff = retry.WithCappedDuration(opts.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(opts.MaxRetries, backoff)

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg.Copy())
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.WarnContext(ctx, "database not reachable, retrying",
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}

	logger.InfoContext(ctx, "database connected", "attempts", attempt)
	return pool, nil
}
