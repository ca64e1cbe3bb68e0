package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"partnerqueue/internal/api"
	"partnerqueue/internal/app"
	"partnerqueue/internal/config"
	"partnerqueue/internal/logging"
	"partnerqueue/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init application")
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Queue:       a.Queue,
		Tenants:     a.Tenants,
		Settings:    a.Settings,
		Expenses:    a.Expenses,
		DeadLetters: a.DeadLetters,
	}
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		deps.Metrics = promhttp.Handler()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	go a.Backups.Start(ctx)

	if cfg.PartnerQueue.EnableBackgroundWorker || anyTenantWorker(cfg) {
		scheduler := a.Scheduler(0, cfg.PartnerQueue.SweepAllTenants())
		go scheduler.Start(ctx)
	} else {
		logger.Info().Msg("background worker disabled; batches run on demand only")
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg, deps, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	} else {
		logger.Warn().Msg("http api disabled in config")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("API server stopped")
	return nil
}

// anyTenantWorker reports whether a configured tenant turns the worker on by override.
func anyTenantWorker(cfg *config.Config) bool {
	for _, t := range cfg.Tenants {
		if t.EnableQueueWorker != nil && *t.EnableQueueWorker {
			return true
		}
	}
	return false
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
