// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/internal/auth/google"
	"github.com/adega/adega/internal/auth/postgres"
	"github.com/adega/adega/internal/config"
	"github.com/adega/adega/internal/observability"
	"github.com/adega/adega/internal/store"
)

// Pool is the database handle serve needs. *pgxpool.Pool satisfies it.
type Pool interface {
	postgres.Querier
	Ping(ctx context.Context) error
	Close()
}

// SchemaMigrator is the part of *store.Migrator the CLI drives.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer is the metrics/health server started by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to the database.
	// Default: store.Connect with store.DefaultConnectOptions
	PoolFactory func(ctx context.Context, url string, logger *slog.Logger) (Pool, error)

	// MigratorFactory opens the schema migrator used when auto-migrate is on.
	// Default: store.NewMigrator
	MigratorFactory func(url string, logger *slog.Logger) (SchemaMigrator, error)

	// VerifierFactory builds the Google identity verifier.
	// Default: google.New
	VerifierFactory func(cfg config.GoogleConfig, logger *slog.Logger) (auth.IdentityVerifier, error)

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Listen opens the API listener.
	// Default: net.Listen
	Listen func(network, addr string) (net.Listener, error)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, logger *slog.Logger) (Pool, error) {
			opts := store.DefaultConnectOptions
			opts.Logger = logger
			pool, err := store.Connect(ctx, url, opts)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigratorFactory
	}
	if out.VerifierFactory == nil {
		out.VerifierFactory = func(cfg config.GoogleConfig, logger *slog.Logger) (auth.IdentityVerifier, error) {
			v, err := google.New(google.Config{
				ClientID: cfg.ClientID,
				Issuers:  cfg.Issuers,
				JWKSURL:  cfg.JWKSURL,
				Timeout:  cfg.Timeout,
			}, google.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	return &out
}

func defaultMigratorFactory(url string, logger *slog.Logger) (SchemaMigrator, error) {
	m, err := store.NewMigrator(url, logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}
