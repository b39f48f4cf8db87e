// The worker command runs the background engine alone: outbox relay,
// worker pool, and janitor. It requires the Postgres store, since a
// separate process cannot see another process's memory store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/cache"
	"github.com/huytu0702/university-admission-portal-sub001/engine"
	"github.com/huytu0702/university-admission-portal-sub001/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := portal.LoadConfig()
	if cfg.PostgresDSN == "" {
		return errors.New("worker: POSTGRES_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	if err != nil {
		return err
	}

	var c cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		c = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.ServiceName)
	}

	eng, err := engine.New(cfg, st,
		engine.WithLogger(logger),
		engine.WithCache(c),
	)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return eng.Stop(context.Background())
}
