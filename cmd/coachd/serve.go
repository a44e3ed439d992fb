package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/config"
	httpserver "github.com/fyrsmithlabs/coachd/internal/http"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/telemetry"
)

// runServe starts the daemon and blocks until SIGINT or SIGTERM.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Connects to NATS when enabled
//  4. Wires the orchestrator and its collaborators
//  5. Starts the HTTP server and the eviction loop
//  6. Shuts down gracefully on signal
func runServe(parent context.Context, path string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lc, err := loggingConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(lc, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	z := logger.Underlying()

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export")
	}

	z.Info("starting coachd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("nats", cfg.NATS.Enabled))

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = connectNATS(cfg.NATS, z.Named("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		z.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	a, err := buildApp(ctx, cfg, logger, tel, nc)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	defer a.Close()

	srv, err := httpserver.NewServer(a.orch, a.breakers, z.Named("http"), &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	},
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(tel.Meter(httpserver.InstrumentationName), z)),
		httpserver.WithPrometheus(a.registry),
	)
	if err != nil {
		return err
	}

	go sweepLoop(ctx, a.orch, cfg.Orchestrator.EvictAfter.Duration(), z.Named("sweep"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		z.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if n := a.dead.Len(); n > 0 {
		z.Warn("undelivered messages in dead-letter queue", zap.Int("count", n))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	z.Info("coachd stopped")
	return errors.Join(errs...)
}
