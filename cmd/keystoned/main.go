// Command keystoned hosts a keystone engine: it loads configuration, runs
// the revocation retry worker and the purge scheduler, and serves health,
// metrics and token introspection over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/keystone"
	"github.com/MrEthical07/keystone/internal/logging"
	"github.com/MrEthical07/keystone/internal/notify"
	"github.com/MrEthical07/keystone/storage"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keystoned: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    = flag.String("config", "", "path to a TOML config file; defaults apply when empty")
		envFile       = flag.String("env-file", ".env", "dotenv file loaded before KEYSTONE_* variables are read")
		addr          = flag.String("addr", envOr("KEYSTONE_SERVER_ADDR", ":8080"), "listen address")
		purgeInterval = flag.Duration("purge-interval", 10*time.Minute, "how often expired tokens are purged")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := keystone.DefaultConfig()
	if *configPath != "" {
		loaded, err := keystone.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config(cfg.Logging))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	engine, err := keystone.New().
		WithConfig(cfg).
		WithPersistence(store).
		WithRedis(rdb).
		WithLogger(logger).
		WithNotifier(notify.LogNotifier{Logger: logger.With(slog.String("component", "notify"))}).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.Start(ctx)

	report := engine.SecurityReport()
	logger.Info("engine ready",
		slog.String("signing", report.SigningAlgorithm),
		slog.Duration("access_ttl", report.AccessTTL),
		slog.Duration("refresh_ttl", report.RefreshTTL),
		slog.Int("min_password_length", report.Policy.MinLength),
		slog.Bool("rate_limiting", report.RateLimitingActive),
		slog.String("rate_limit_backend", report.RateLimitBackend),
		slog.Bool("audit", report.AuditEnabled),
	)

	go runPurger(ctx, engine, *purgeInterval, logger)

	handler, err := newRouter(routerDeps{
		engine: engine,
		logger: logger,
		checks: []healthCheck{
			{name: "storage", ping: store.Ping},
			{name: "redis", ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("keystoned listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runPurger calls PurgeExpired every interval until ctx is done.
func runPurger(ctx context.Context, engine *keystone.Engine, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, engine, logger)
		}
	}
}

func purgeOnce(ctx context.Context, engine *keystone.Engine, logger *slog.Logger) {
	report, err := engine.PurgeExpired(ctx)
	if err != nil {
		logger.Error("purge failed", slog.Any("err", err))
		return
	}
	logger.Info("purged expired tokens",
		slog.Int64("refresh", report.RefreshTokens),
		slog.Int64("verification", report.VerificationTokens),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
