package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	authrepo "dripline_backend/internal/auth/repository"
	authsvc "dripline_backend/internal/auth/service"
	"dripline_backend/internal/clients"
	"dripline_backend/internal/contacts"
	"dripline_backend/internal/enrollment"
	enrollsvc "dripline_backend/internal/enrollment/service"
	"dripline_backend/internal/events"
	apphttp "dripline_backend/internal/http"
	"dripline_backend/internal/http/router"
	"dripline_backend/internal/scheduler"
	"dripline_backend/internal/sequences"
	"dripline_backend/internal/stats"
	"dripline_backend/platform/config"
	"dripline_backend/platform/db"
	"dripline_backend/platform/logger"
	"dripline_backend/platform/validator"
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

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	retryScheduler, closeScheduler := initRetryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	clientsModule := clients.NewModule(pool, log, val)
	contactsModule := contacts.NewModule(pool, eventBus, cfg, log)
	sequencesModule := sequences.NewModule(pool, log, val)
	authService := authsvc.New(clientsModule.Repo, authrepo.New(pool), cfg, log)

	enrollmentModule := enrollment.NewModule(pool, enrollment.Deps{
		Sequences: sequencesModule.Repo,
		Windows:   sequencesModule.Service,
		Contacts:  contactsModule.Repo,
		Instances: clientsModule.Repo,
		Retries:   retryScheduler,
		Auth:      authService,
		Clients:   clientsModule.Service,
		Resolver:  contactsModule.Service,
		Webhooks:  sequencesModule.Repo,
		Config:    cfg,
	}, eventBus, log, val)

	// Stats subscribes to the bus; it only serves one admin route itself.
	statsModule := stats.NewModule(pool, clientsModule.Repo, eventBus, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			clientsModule,
			contactsModule,
			sequencesModule,
			enrollmentModule,
			statsModule,
		},
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.New(app),
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initRetryScheduler connects the asynq producer. Without redis the engine
// still runs; failed messages then stay failed until an admin intervenes.
func initRetryScheduler(cfg *config.Config, log *logger.Logger) (enrollsvc.RetryScheduler, func()) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; delayed message retries disabled")
		return noopRetryScheduler{log: log}, nil
	}

	client, err := scheduler.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to initialize retry scheduler client", "error", err)
		return noopRetryScheduler{log: log}, nil
	}
	return client, func() {
		_ = client.Close()
	}
}

// noopRetryScheduler drops retry requests when redis is absent.
type noopRetryScheduler struct {
	log *logger.Logger
}

func (n noopRetryScheduler) ScheduleRetry(_ context.Context, messageID uuid.UUID, _ time.Time) error {
	n.log.Warn("retry scheduler disabled, message stays failed", "messageId", messageID)
	return nil
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
	return fmt.Errorf("%s: %w", name, lastErr)
}
