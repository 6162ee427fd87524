package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropspot/drop-service/internal/audit"
	"github.com/dropspot/drop-service/internal/config"
	"github.com/dropspot/drop-service/internal/domain"
	"github.com/dropspot/drop-service/internal/infrastructure/memory"
	"github.com/dropspot/drop-service/internal/infrastructure/postgres"
	"github.com/dropspot/drop-service/internal/infrastructure/redis"
	"github.com/dropspot/drop-service/internal/pkg/logger"
	"github.com/dropspot/drop-service/internal/security"
	"github.com/dropspot/drop-service/internal/service"
	"github.com/dropspot/drop-service/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "drop-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := domain.ClockFunc(time.Now)

	// ---- Store: postgres, or in-memory for dev without a DSN ----
	var store domain.Store
	var repo *postgres.Repository

	if cfg.DBDSN == "" {
		if cfg.AppEnv != "dev" {
			log.Fatal().Msg("no database configured outside dev")
		}
		log.Warn().Msg("no DATABASE_URL set; using in-memory store (dev only, state is not durable)")
		store = memory.New(clock)
	} else {
		dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres pool create failed")
		}
		defer dbPool.Close()

		{
			pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
			defer cancel()

			if err := dbPool.Ping(pingCtx); err != nil {
				log.Fatal().Err(err).Msg("postgres ping failed")
			}
			log.Info().Msg("postgres connected")
		}

		if cfg.MigrateOnBoot {
			if err := postgres.Migrate(rootCtx, dbPool); err != nil {
				log.Fatal().Err(err).Msg("schema migration failed")
			}
			log.Info().Msg("schema up to date")
		}

		repo = postgres.New(dbPool)
		store = repo
	}

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.CacheDropTTL)

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort ping; redis is an accelerator, not a dependency
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Priority scorer ----
	scorer := domain.NewScorer(cfg.ProjectSeed)
	a, b, c := scorer.Coefficients()
	log.Info().Int("a", a).Int("b", b).Int("c", c).Msg("priority coefficients derived")

	// ---- Application service ----
	auditLog := audit.New(log)
	svc := service.NewDropService(store, cache, scorer, auditLog, clock)
	h := rest.NewHandler(svc, clock)

	// ---- JWT verifier ----
	verifier := security.NewHS256Verifier(cfg.JWTSecret)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Cache:            cache,
		Handler:          h,
		Verifier:         verifier,
		JWTIssuer:        cfg.JWTIssuer,
		RateLimitEnabled: cfg.RLEnabled,
		RateLimit:        cfg.RLLimit,
		RateLimitWindow:  cfg.RLWindow,
	})

	// ---- Outbox worker (outbound waitlist.* / claim.* events) ----
	if cfg.OutboxEnabled && repo != nil {
		repo.StartOutboxWorker(rootCtx, cfg.RabbitURL, cfg.RabbitExchange)
		log.Info().Msg("outbox worker started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
