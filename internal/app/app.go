package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"partnerqueue/internal/api"
	"partnerqueue/internal/config"
	"partnerqueue/internal/database"
	"partnerqueue/internal/events"
	"partnerqueue/internal/handlers"
	"partnerqueue/internal/metrics"
	"partnerqueue/internal/queue"
	"partnerqueue/internal/redisq"
	"partnerqueue/internal/settings"
	"partnerqueue/internal/tenant"
	"partnerqueue/internal/worker"
)

// App holds the wired components shared by the API and worker binaries.
type App struct {
	Config      *config.Config
	Master      *database.MasterDB
	Tenants     *tenant.Router
	Settings    *settings.Provider
	Bus         *events.EventBus
	Queue       *queue.Service
	Expenses    handlers.ExpenseServices
	Redis       *redis.Client
	Signal      *redisq.Signal
	DeadLetters *redisq.DeadLetter
	Backups     *database.BackupService

	logger *zerolog.Logger
}

// New opens the master catalog, seeds configured tenants and builds the queue
// with every handler registered. Producer keys are checked against the registry.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	master, err := database.NewMasterDB(cfg.Database.MasterPath, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Master: master, logger: logger}

	if err := tenant.Seed(ctx, master, cfg.Tenants); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to seed tenants: %w", err)
	}

	a.Tenants = tenant.NewRouter(master, cfg.Database.TenantsDir, loc, logger)
	a.Settings = settings.NewProvider(cfg.PartnerQueue)
	a.Expenses = handlers.DefaultExpenseServices(logger)
	a.Backups = database.NewBackupService(a.backupSources, cfg.Backup, logger)

	registry, err := queue.NewRegistry(handlers.All(a.Expenses, logger)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := registry.Validate(api.ProducerKeys()...); err != nil {
		a.Close()
		return nil, fmt.Errorf("producer routes reference unregistered handlers: %w", err)
	}

	a.Bus = events.NewEventBus()
	a.Bus.OnError(func(e *events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("event handler failed")
	})
	metrics.Subscribe(a.Bus)

	a.initRedis(ctx)
	redisq.Subscribe(a.Bus, a.Signal, a.DeadLetters, logger)

	a.Queue = queue.NewService(a.Tenants, registry, a.Settings, logger,
		queue.WithEventBus(a.Bus),
		queue.WithWorkers(cfg.PartnerQueue.Workers),
	)

	logger.Info().Strs("operation_keys", registry.Keys()).Int("tenants", len(cfg.Tenants)).Msg("partner queue ready")
	return a, nil
}

func (a *App) backupSources(ctx context.Context) (map[string]string, error) {
	paths, err := a.Tenants.DatabasePaths(ctx)
	if err != nil {
		return nil, err
	}
	paths["master"] = a.Config.Database.MasterPath
	return paths, nil
}

func (a *App) initRedis(ctx context.Context) {
	cfg := a.Config.Redis
	if !cfg.Enabled || cfg.Address == "" {
		return
	}

	client := redisq.NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		a.logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return
	}

	a.logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	a.Redis = client
	a.Signal = redisq.NewSignal(client, cfg.KeyPrefix)
	a.DeadLetters = redisq.NewDeadLetter(client, cfg.KeyPrefix, cfg.DeadLetterLimit)
}

// Scheduler builds the background batch scheduler from configuration.
func (a *App) Scheduler(limit int, allTenants bool) *worker.Scheduler {
	opts := worker.Options{
		Interval:   a.Settings.Interval(),
		Limit:      limit,
		AllTenants: allTenants,
		Retry:      worker.DefaultRetryPolicy,
		Enabled: func(ctx context.Context) bool {
			ts, err := a.Tenants.Tenants(ctx)
			if err != nil {
				a.logger.Warn().Err(err).Msg("tenant catalog unavailable, running round anyway")
				return true
			}
			return a.Settings.WorkerEnabled(ts)
		},
	}
	if a.Signal != nil {
		opts.Waker = a.Signal
	}
	return worker.NewScheduler(a.Queue, opts, a.logger)
}

func (a *App) Close() error {
	var errs []error
	if a.Tenants != nil {
		errs = append(errs, a.Tenants.Close())
	}
	if a.Master != nil {
		errs = append(errs, a.Master.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
