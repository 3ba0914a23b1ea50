package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"nibras-backend/internal/config"
	"nibras-backend/internal/database"
	"nibras-backend/internal/handlers"
	"nibras-backend/internal/identity"
	"nibras-backend/internal/metrics"
	"nibras-backend/internal/middleware"
	"nibras-backend/internal/providers"
	"nibras-backend/internal/repository"
	"nibras-backend/internal/retry"
	"nibras-backend/internal/router"
	"nibras-backend/internal/services"
	"nibras-backend/internal/websocket"
	"nibras-backend/internal/worker"
	"nibras-backend/migrations"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)
	log.Info().Str("env", cfg.Env).Msg("starting nibras backend")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("stopped")
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	// ──── Optional stores ────
	var pool *pgxpool.Pool
	var usage services.UsageRecorder
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres connection failed: %w", err)
		}
		defer pool.Close()
		if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		usageWorkers := worker.NewPool(repository.NewUsageRepo(pool), 2, 1024, log.Logger)
		usageWorkers.Start()
		defer usageWorkers.Stop()
		usage = usageWorkers
		log.Info().Msg("usage ledger enabled")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()
	}

	// ──── Identity ────
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("identity verifier initialization failed: %w", err)
	}

	// ──── Providers and dispatch ────
	registry := newRegistry(cfg)
	if len(registry.Configured()) == 0 {
		log.Warn().Msg("no provider API keys configured; every chat will fail")
	}

	m := metrics.Global()
	chat := services.NewChatService(
		registry,
		retry.New(retry.Config{}),
		retry.Options{Timeout: cfg.UpstreamTimeout, MaxRetries: cfg.UpstreamMaxRetries},
		usage,
		m,
	)

	// ──── Inbound rate limit ────
	var limiter middleware.Limiter
	if rdb != nil {
		limiter = middleware.NewRedisLimiter(rdb, int64(cfg.ChatRateLimit), cfg.ChatRateWindow)
		log.Info().Int("limit", cfg.ChatRateLimit).Msg("redis rate limiter enabled")
	} else {
		mem := middleware.NewMemoryLimiter(int64(cfg.ChatRateLimit), cfg.ChatRateWindow)
		go mem.Cleanup(ctx)
		limiter = mem
	}

	checks := map[string]handlers.Check{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var kinds []string
	for _, k := range registry.Configured() {
		kinds = append(kinds, string(k))
	}

	r := router.New(router.Deps{
		Logger:         log.Logger,
		Verifier:       verifier,
		Limiter:        limiter,
		Metrics:        m,
		ChatHandler:    handlers.NewChatHandler(chat),
		HealthHandler:  handlers.NewHealthHandler(kinds, checks),
		ChatSocket:     websocket.NewChatSocket(chat, limiter, cfg.FrontendOrigin),
		FrontendOrigin: cfg.FrontendOrigin,
	})

	// Write timeout must outlast a full retry sequence on the slowest path.
	writeTimeout := time.Duration(cfg.UpstreamMaxRetries+1)*cfg.UpstreamTimeout + time.Minute
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Strs("providers", kinds).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newVerifier(ctx context.Context, cfg *config.Config) (identity.Verifier, error) {
	switch {
	case cfg.FirebaseProjectID != "":
		log.Info().Str("project", cfg.FirebaseProjectID).Msg("firebase token verification enabled")
		return identity.NewFirebaseVerifier(ctx, identity.FirebaseConfig{
			ProjectID:   cfg.FirebaseProjectID,
			PrivateKey:  cfg.FirebasePrivateKey,
			ClientEmail: cfg.FirebaseClientEmail,
		})
	case cfg.JWTSecret != "":
		log.Info().Msg("jwt token verification enabled")
		return identity.NewJWTVerifier(cfg.JWTSecret), nil
	default:
		log.Warn().Msg("no token verifier configured; presented tokens will be rejected")
		return identity.Reject{}, nil
	}
}

func newRegistry(cfg *config.Config) *providers.Registry {
	var gemini *providers.GeminiAdapter
	if cfg.GeminiAPIKey != "" {
		gemini = providers.NewGemini(providers.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiAPIURL,
			Model:   cfg.GeminiModel,
		})
	}
	var openai *providers.OpenAIAdapter
	if cfg.OpenAIAPIKey != "" {
		openai = providers.NewOpenAI(providers.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			URL:    cfg.OpenAIAPIURL,
			Model:  cfg.OpenAIModel,
		})
	}
	return providers.NewRegistry(gemini, openai)
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))
	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
