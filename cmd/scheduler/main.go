package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"inmocrm_backend/internal/adapters"
	"inmocrm_backend/internal/campaigns"
	"inmocrm_backend/internal/events"
	"inmocrm_backend/internal/leads"
	"inmocrm_backend/internal/scheduler"
	"inmocrm_backend/internal/settings"
	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/db"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
	"inmocrm_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	m := metrics.New()
	val := validator.New()

	// Worker-side campaign wiring (no HTTP handlers required). The worker
	// shares the engine with the API so dispatch-driven stage moves run the
	// same trigger matching.
	settingsModule, err := settings.NewModule(pool, val, log)
	if err != nil {
		log.Error("failed to initialize settings module", "error", err)
		panic("failed to initialize settings module: " + err.Error())
	}
	leadsModule := leads.NewModule(pool, eventBus, settingsModule.Store(), val, m, log)

	stepClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize step scheduler client", "error", err)
		panic("failed to initialize step scheduler client: " + err.Error())
	}
	defer func() { _ = stepClient.Close() }()

	senderRouter := adapters.NewRouter(cfg, log)
	campaignsModule := campaigns.NewModule(campaigns.Deps{
		Pool:            pool,
		Bus:             eventBus,
		Leads:           leadsModule.Service(),
		Contacts:        leadsModule.Service(),
		Stages:          leadsModule.Service(),
		Senders:         senderRouter,
		Calls:           adapters.NewVoiceCaller(cfg, log),
		Meetings:        adapters.NewCalendarScheduler(cfg, log),
		Enqueue:         stepClient,
		Validator:       val,
		Metrics:         m,
		Log:             log,
		DispatchTimeout: cfg.GetDispatchTimeout(),
	})

	sweep := scheduler.NewInactivitySweep(
		leadsModule.Repository(),
		campaignsModule.Service(),
		log,
		cfg.GetInactivitySweepInterval(),
	)
	go sweep.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, campaignsModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}
