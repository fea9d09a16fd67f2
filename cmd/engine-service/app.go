package main

import (
	"context"
	"fmt"

	"compliance/engine-service/internal/config"
	"compliance/engine-service/internal/core"
	"compliance/engine-service/internal/escalation"
	"compliance/engine-service/internal/lock"
	"compliance/engine-service/internal/notify"
	"compliance/engine-service/internal/rules"
	"compliance/engine-service/internal/scheduler"
	"compliance/engine-service/internal/store"
	"compliance/engine-service/internal/store/memory"
	"compliance/engine-service/internal/store/postgres"
	"compliance/engine-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the wired components shared by the subcommands.
type app struct {
	store      store.Store
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
	service    *core.Service
	closers    []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	if cfg.DatabaseURL == "" {
		logger.Warn("DB_DSN not set, using in-memory store")
		a.store = memory.New()
	} else {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.store = postgres.NewStore(pool)
	}

	var locker lock.Locker = lock.NewKeyedLocker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			a.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		locker = lock.NewRedisLocker(client, cfg.LockTTL, logger)
	}

	notifier := notify.NewNotifier(notify.ProviderConfig{
		Kind:         cfg.NotifyProvider,
		WebhookURL:   cfg.NotifyWebhookURL,
		WebhookToken: cfg.NotifyWebhookToken,
	}, logger)
	a.dispatcher = notify.NewDispatcher(notify.Config{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
	}, notifier, core.NewAssigner(a.store, core.NewDirectoryResolver(cfg.RoleActors)), notify.NotifierIncidents{Notifier: notifier}, logger, metrics)

	engine := escalation.NewEngine(a.store, a.dispatcher, logger, metrics)
	a.scheduler = scheduler.New(scheduler.Config{
		Interval:      cfg.RecalcInterval,
		Concurrency:   cfg.RecalcConcurrency,
		EntityTimeout: cfg.RecalcEntityTimeout,
	}, a.store, engine, locker, logger, metrics)
	a.service = core.NewService(a.store, a.scheduler, logger, metrics)

	if cfg.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			a.close()
			return nil, err
		}
		result, err := rules.Seed(ctx, a.store, loaded)
		if err != nil {
			a.close()
			return nil, err
		}
		logger.Info("escalation rules seeded",
			zap.String("file", cfg.RulesFile),
			zap.Int("created", result.Created),
			zap.Int("updated", result.Updated),
		)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
