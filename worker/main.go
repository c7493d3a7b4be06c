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

	"github.com/google/uuid"
	"github.com/krelinga/hls-transcoder/internal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := internal.LoadDotEnv(); err != nil {
		return err
	}
	cfg := internal.NewWorkerConfigFromEnv()

	logger, err := internal.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	workerID := "worker-" + uuid.NewString()
	logger = logger.With("worker_id", workerID)
	slog.SetDefault(logger)

	pool, err := internal.NewDBPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	logger.Info("Running database migrations...")
	if err := internal.MigrateUp(ctx, pool, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations complete")

	storage, err := internal.NewStorageGateway(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage gateway: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := internal.NewMetrics(reg)

	pipeline, err := internal.NewPipeline(cfg, storage, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	reporters := internal.MultiReporter{&internal.ProgressRecorder{Pool: pool, Logger: logger}}
	if cfg.RedisAddr != "" {
		redisReporter, err := internal.NewRedisReporter(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return err
		}
		defer redisReporter.Close()
		reporters = append(reporters, redisReporter)
		logger.Info("publishing progress to redis", "addr", cfg.RedisAddr, "channel", internal.ProgressChannel)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &StreamWorker{
		Pipeline:  pipeline,
		Reporters: reporters,
		Logger:    logger,
	})
	river.AddWorker(workers, &WebhookWorker{})

	retryPolicy := internal.NewRetryPolicy(cfg.Retry)
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		ID: workerID,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Concurrency},
		},
		Workers:     workers,
		Logger:      logger,
		RetryPolicy: retryPolicy,
		MaxAttempts: retryPolicy.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to create river client: %w", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "port", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start river client: %w", err)
	}

	logger.Info("Worker started, waiting for jobs...",
		"concurrency", cfg.Concurrency,
		"work_dir", cfg.WorkDir,
		"renditions", len(pipeline.Ladder),
		"max_attempts", retryPolicy.MaxAttempts)

	<-ctx.Done()
	logger.Info("Shutdown signal received, shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}

	if err := riverClient.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("river client shutdown error: %w", err)
	}

	logger.Info("Worker shutdown complete")
	return nil
}
