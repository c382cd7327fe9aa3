// Package main is the entrypoint for the holdseg API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/holdseg/internal/api"
	"github.com/kiranshivaraju/holdseg/internal/api/handler"
	mw "github.com/kiranshivaraju/holdseg/internal/api/middleware"
	"github.com/kiranshivaraju/holdseg/internal/api/response"
	"github.com/kiranshivaraju/holdseg/internal/cache"
	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/internal/jobs"
	"github.com/kiranshivaraju/holdseg/internal/pipeline"
	"github.com/kiranshivaraju/holdseg/internal/pool"
	"github.com/kiranshivaraju/holdseg/internal/segment"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	})))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"runtime", cfg.Model.Runtime,
		"pool_mode", cfg.Pool.Mode,
		"max_workers", cfg.Pool.MaxWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis is optional
	c, err := cache.Open(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer c.Close()
	if cfg.Redis.URL != "" {
		slog.Info("redis connected")
	}

	// 3. Job registry and its janitor
	manager := jobs.NewManager(c, cfg.Redis.JobStatusTTL)
	go manager.RunJanitor(ctx, cfg.Pool.SweepInterval, cfg.Pool.JobTTL)

	// 4. Worker pool
	sched := pool.New(pool.Config{
		MaxWorkers:  cfg.Pool.MaxWorkers,
		TaskTimeout: cfg.Pool.TaskTimeout,
	}, spawner(cfg, c), manager)

	svc := segment.NewService(manager, sched)

	// 5. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(c, cfg.Server.RateLimitPerMin),

		HealthHandler:  healthHandler(c, svc),
		SubmitHandler:  handler.NewSubmitHandler(svc, cfg.Server.MaxUploadBytes),
		PollJobHandler: handler.NewPollHandler(svc),
		GeoJSONHandler: handler.NewGeoJSONHandler(svc),
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop accepting uploads, then let in-flight jobs finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker pool shutdown: %w", err)
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("server stopped gracefully")
	return nil
}

// spawner picks how workers hold their model: in this process, or in a
// dedicated holdctl worker subprocess each.
func spawner(cfg *config.Config, c cache.Cache) pool.Spawner {
	if cfg.Pool.Mode == config.ModeProcess {
		return pool.ProcessSpawner(pool.ProcessConfig{
			Binary: cfg.Pool.WorkerBinary,
			Args:   []string{"worker"},
		})
	}
	return pool.LocalSpawner(pipeline.Loader(cfg, c))
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type poolStats interface {
	Stats() (pool.Stats, int)
}

// healthHandler checks cache connectivity and reports worker pool load.
func healthHandler(c cache.Cache, p poolStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"cache": "ok",
		}

		if _, off := c.(cache.Nop); off {
			checks["cache"] = "disabled"
		} else if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		stats, jobCount := p.Stats()
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"pool":     stats,
			"jobs":     jobCount,
		})
	}
}
