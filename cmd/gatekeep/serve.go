// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/web"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// serveDeps holds the injectable parts of serve. Nil fields use defaults.
type serveDeps struct {
	openBackend func(ctx context.Context, cfg *config.Config) (*Backend, error)
	// onReady is called with the public address once every listener is up.
	onReady func(addr string)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Serve sign-up, login, logout and session lookup over HTTP, with
metrics and health probes on a separate listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, migrate, nil)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, migrate bool, deps *serveDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &serveDeps{}
	}
	if deps.openBackend == nil {
		deps.openBackend = openBackend
	}

	logger := logging.SetDefault(logging.Options{
		Service: "gatekeep",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Level(),
		Writer:  cmd.ErrOrStderr(),
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := migrateUp(cfg); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	backend, err := deps.openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger.Info("connected to database", "driver", cfg.Driver().String())

	service, err := newService(cfg, backend, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, backend.Ping, logger)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		defer stopServer(logger, "observability", obsServer.Stop)
		go monitorServerErrors(ctx, cancel, logger, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	handler, err := web.NewHandler(service, web.WithLogger(logger), web.WithMetrics(metrics))
	if err != nil {
		return err
	}
	webServer := web.NewServer(cfg.HTTP.Addr, handler.Routes(), logger)
	webErrCh, err := webServer.Start()
	if err != nil {
		return err
	}
	defer stopServer(logger, "web", webServer.Stop)
	go monitorServerErrors(ctx, cancel, logger, webErrCh, "web")

	if cfg.Session.SweepInterval > 0 {
		sweeper, err := auth.NewSessionSweeper(backend.Sessions, cfg.Session.SweepInterval, logger)
		if err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	cmd.Println("gatekeep started")
	logger.Info("gatekeep ready", "http_addr", webServer.Addr(), "environment", cfg.Environment)
	if deps.onReady != nil {
		deps.onReady(webServer.Addr())
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// newService wires the hasher, session manager and credential flows.
func newService(cfg *config.Config, backend *Backend, logger *slog.Logger) (*auth.Service, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Argon2Params())
	if err != nil {
		return nil, err
	}
	manager, err := auth.NewSessionManager(backend.Sessions, backend.Users, cfg.SessionOptions(), auth.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return auth.NewAuthServiceWithLogger(backend.Users, hasher, manager, logger)
}

func migrateUp(cfg *config.Config) (err error) {
	m, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return m.Up()
}

func stopServer(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		errutil.LogErrorContext(ctx, logger, slog.LevelWarn, "error stopping "+name+" server", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error. It
// returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, errCh <-chan error, serverName string) {
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
