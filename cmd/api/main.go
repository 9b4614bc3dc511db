package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slimpdf/slimpdf-api/internal/api"
	"github.com/slimpdf/slimpdf-api/internal/api/handlers"
	"github.com/slimpdf/slimpdf-api/internal/api/middleware"
	"github.com/slimpdf/slimpdf-api/internal/auth"
	"github.com/slimpdf/slimpdf-api/internal/cache"
	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/database"
	"github.com/slimpdf/slimpdf-api/internal/files"
	"github.com/slimpdf/slimpdf-api/internal/jobs"
	"github.com/slimpdf/slimpdf-api/internal/logging"
	"github.com/slimpdf/slimpdf-api/internal/queue"
	"github.com/slimpdf/slimpdf-api/internal/usage"
	"github.com/slimpdf/slimpdf-api/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg).With("component", "api"))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	// Redis backs the job queue and the user cache.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable at startup", "error", err)
	}
	defer rdb.Close()

	fm, err := files.NewManager(cfg.Files.TempDir)
	if err != nil {
		slog.Error("temp directory unavailable", "dir", cfg.Files.TempDir, "error", err)
		os.Exit(1)
	}

	userSvc := users.NewService(db, cache.NewCache(rdb, "slimpdf:"), cfg.Auth.UserCacheTTL)
	keyStore := auth.NewPostgresKeyStore(db)
	resolver := auth.NewResolver(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry), keyStore, userSvc)

	limits := usage.LimitsFromConfig(cfg.Limits)
	ledger := usage.NewLedger(usage.NewPostgresStore(db), limits)

	queueClient := queue.NewClient(cfg.Redis, cfg.Worker.ProcessingTimeout)
	defer queueClient.Close()

	jobStore := jobs.NewPostgresStore(db)
	jobSvc := jobs.NewService(jobStore, queueClient, fm, limits, cfg.Files)

	limiter := middleware.NewRateLimiter(cfg.Server.BurstRPS, cfg.Server.Burst)
	done := make(chan struct{})
	go limiter.Cleanup(done)

	router := api.NewRouter(cfg, api.Deps{
		Health: map[string]handlers.Pinger{
			"database": db,
			"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
		Auth:      auth.NewMiddleware(resolver, cfg.Auth.APIKeyHeader),
		Limiter:   limiter,
		Quota:     ledger,
		Usage:     ledger,
		Uploads:   fm,
		Submitter: jobSvc,
		Jobs:      jobSvc,
		Downloads: jobs.NewGate(jobStore, fm),
		Keys:      auth.NewKeyService(keyStore),
		Users:     userSvc,
	})

	// Uploads and downloads of large PDFs need more than the usual timeouts.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "temp_dir", fm.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	close(done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
