package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"partnerqueue/internal/app"
	"partnerqueue/internal/config"
	"partnerqueue/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", envOr("CONFIG_PATH", "configs/config.yaml"), "path to the YAML config")
	once := fs.Bool("once", false, "run a single batch round and exit")
	limit := fs.Int("limit", 0, "items per tenant per round; 0 uses the configured batch size")
	allTenants := fs.Bool("all-tenants", true, "sweep every tenant with queue mode enabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init application")
		return err
	}
	defer a.Close()

	scheduler := a.Scheduler(*limit, *allTenants)
	if *once {
		res, err := scheduler.RunOnce(ctx)
		logger.Info().
			Int("pulled", res.Pulled).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Msg("single batch round finished")
		return err
	}

	scheduler.Start(ctx)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
