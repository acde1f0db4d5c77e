package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinrounds/internal/config"
	"coinrounds/internal/db"
	"coinrounds/internal/events"
	"coinrounds/internal/game"
	"coinrounds/internal/lock"
	"coinrounds/internal/metrics"
	"coinrounds/internal/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	locker, closeLocker, err := lock.ForURL(ctx, cfg.RedisURL, cfg.LockWait)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer closeLocker()

	publisher := events.ForBrokers(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	m := metrics.New("worker")
	svc := game.NewService(postgres.New(pool, logger), locker, logger,
		game.WithPublisher(publisher),
		game.WithObserver(m),
	)

	if cfg.RunOnce {
		report, err := svc.AdvanceDueGames(ctx, cfg.RoundConfig())
		if err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "checked", report.Checked, "advanced", len(report.Advanced), "ended", len(report.Ended))
		return
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer metricsServer.Close()

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "round_duration_minutes", cfg.RoundDuration)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			report, err := svc.AdvanceDueGames(ctx, cfg.RoundConfig())
			if err != nil {
				logger.Error("round tick failed", "err", err)
				continue
			}
			if len(report.Advanced)+len(report.Ended)+len(report.Failed) > 0 {
				logger.Info("round tick complete",
					"checked", report.Checked,
					"advanced", report.Advanced,
					"ended", report.Ended,
					"skipped", report.Skipped,
					"failed", report.Failed,
				)
			}
		}
	}
}
