package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinrounds/internal/api"
	"coinrounds/internal/config"
	"coinrounds/internal/db"
	"coinrounds/internal/events"
	"coinrounds/internal/game"
	"coinrounds/internal/idcodec"
	"coinrounds/internal/lock"
	"coinrounds/internal/metrics"
	"coinrounds/internal/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ids, err := idcodec.New(cfg.IDSecret)
	if err != nil {
		logger.Error("id codec init failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if cfg.EnsureSchema {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Error("schema bootstrap failed", "err", err)
			os.Exit(1)
		}
	}

	locker, closeLocker, err := lock.ForURL(ctx, cfg.RedisURL, cfg.LockWait)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer closeLocker()

	publisher := events.ForBrokers(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	m := metrics.New("api")
	gameSvc := game.NewService(postgres.New(pool, logger), locker, logger,
		game.WithPublisher(publisher),
		game.WithObserver(m),
	)

	server := api.New(cfg, logger, gameSvc, ids, m)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("coinrounds api listening",
		"addr", cfg.Addr,
		"round_duration_minutes", cfg.RoundDuration,
		"redis_lock", cfg.RedisURL != "",
		"kafka", len(cfg.KafkaBrokers) > 0,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
