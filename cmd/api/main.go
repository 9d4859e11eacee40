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
	apphttp "inmocrm_backend/internal/http"
	"inmocrm_backend/internal/http/router"
	"inmocrm_backend/internal/leads"
	"inmocrm_backend/internal/reporting"
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
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	m := metrics.New()
	val := validator.New()

	stepClient, closeScheduler := initStepScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	settingsModule, err := settings.NewModule(pool, val, log)
	if err != nil {
		log.Error("failed to initialize settings module", "error", err)
		panic("failed to initialize settings module: " + err.Error())
	}

	leadsModule := leads.NewModule(pool, eventBus, settingsModule.Store(), val, m, log)

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

	reportingModule := reporting.NewModule(leadsModule.Service(), campaignsModule.Service())

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Metrics:  m,
		Modules: []apphttp.Module{
			settingsModule,
			leadsModule,
			campaignsModule,
			reportingModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initStepScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; campaign step dispatch disabled")
		return nil, nil
	}

	stepClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize step scheduler client", "error", err)
		return nil, nil
	}

	return stepClient, func() {
		_ = stepClient.Close()
	}
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
