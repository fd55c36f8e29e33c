// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adega Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/adega/adega/internal/auth"
	"github.com/adega/adega/internal/auth/postgres"
	"github.com/adega/adega/internal/config"
	"github.com/adega/adega/internal/httpapi"
	"github.com/adega/adega/internal/logging"
	"github.com/adega/adega/internal/observability"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the HTTP account API and, when metrics.addr is set, the
metrics and health endpoints. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until ctx is cancelled, a signal arrives or a server fails.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	logger, err := logging.Setup(logging.Options{
		Service: "adega",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var authRecorder auth.Recorder
	var requestRecorder httpapi.RequestRecorder
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, readinessChecker(&ready, pool), logger)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		authRecorder = obsServer.Metrics()
		requestRecorder = obsServer.Metrics()
	}

	handler, err := buildHandler(cfg, pool, deps, logger, authRecorder, requestRecorder)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()

	ready.Store(true)
	cmd.Println("Adega API started")
	logger.Info("api listening", "addr", listener.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiErrCh:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	}
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// buildHandler wires the account stack onto pool.
func buildHandler(
	cfg config.Config,
	pool Pool,
	deps *ServeDeps,
	logger *slog.Logger,
	authRecorder auth.Recorder,
	requestRecorder httpapi.RequestRecorder,
) (http.Handler, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    []byte(cfg.Token.Secret),
		Algorithm: cfg.Token.Algorithm,
		TTL:       cfg.Token.TTL,
		Issuer:    cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}

	verifier, err := deps.VerifierFactory(cfg.Google, logger)
	if err != nil {
		return nil, err
	}

	opts := []auth.ReconcilerOption{auth.WithLogger(logger)}
	if authRecorder != nil {
		opts = append(opts, auth.WithRecorder(authRecorder))
	}
	reconciler, err := auth.NewReconciler(
		postgres.NewAccountRepository(pool),
		auth.NewArgon2idHasher(),
		tokens,
		verifier,
		opts...,
	)
	if err != nil {
		return nil, err
	}

	apiOpts := []httpapi.Option{httpapi.WithLogger(logger)}
	if requestRecorder != nil {
		apiOpts = append(apiOpts, httpapi.WithRequestRecorder(requestRecorder))
	}
	return httpapi.New(reconciler, apiOpts...).Handler(), nil
}

func autoMigrate(deps *ServeDeps, url string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(url, logger)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	return nil
}

// readinessChecker reports ready once the API listens and the database answers.
func readinessChecker(ready *atomic.Bool, pool Pool) observability.ReadinessChecker {
	return func() bool {
		if !ready.Load() {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil
	}
}

func stopObservability(obsServer ObservabilityServer, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
