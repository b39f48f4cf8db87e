// The api command runs the portal HTTP server. With EMBED_WORKER on
// (the default) it also runs the outbox relay, worker pool, and janitor
// in-process, which is the only sensible mode for the memory store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/api"
	"github.com/huytu0702/university-admission-portal-sub001/cache"
	"github.com/huytu0702/university-admission-portal-sub001/engine"
	"github.com/huytu0702/university-admission-portal-sub001/store"
	"github.com/huytu0702/university-admission-portal-sub001/store/memory"
	"github.com/huytu0702/university-admission-portal-sub001/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := portal.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, st,
		engine.WithLogger(logger),
		engine.WithCache(newCache(cfg)),
		engine.WithBackground(cfg.EmbedWorker),
	)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.New(eng, logger).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	return eng.Stop(context.Background())
}

func newStore(ctx context.Context, cfg portal.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.PostgresDSN != "" {
		return postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	}
	return memory.New(), nil
}

func newCache(cfg portal.Config) cache.Cache {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return cache.NewRedis(client, cfg.ServiceName)
	}
	return cache.NewMemory()
}
