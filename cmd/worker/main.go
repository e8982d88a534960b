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

	"github.com/joho/godotenv"

	"github.com/Raymond9734/congregation-console/internal/config"
	"github.com/Raymond9734/congregation-console/internal/db"
	"github.com/Raymond9734/congregation-console/internal/logging"
	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/queue"
	"github.com/Raymond9734/congregation-console/internal/repository"
	"github.com/Raymond9734/congregation-console/internal/worker"
)

func main() {
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize logger
	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Debug("no .env file loaded, using process environment")
	}
	logger.Info("starting submission ledger worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Connect to database
	database, err := db.New(db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,

		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(context.Background()); err != nil {
		return err
	}
	logger.Info("connected to database")

	// Connect to Redis queue
	queueClient, err := queue.NewRedisClient(queue.RedisConfig{
		URL:       cfg.Queue.RedisURL,
		QueueName: cfg.Queue.QueueName,
	}, logger)
	if err != nil {
		return err
	}
	defer queueClient.Close()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		recorder.WatchQueueDepth(queueClient.DepthProbe(2 * time.Second))
		go serveMetrics(recorder, cfg.Worker.MetricsPort, logger)
	}

	processor := worker.NewLedgerProcessor(
		repository.NewSubmissionRepository(database.DB),
		queueClient,
		cfg.Worker.MaxRetryCount,
		recorder,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting event consumer",
			slog.Int("concurrency", cfg.Worker.Concurrency),
			slog.Int("max_retry_count", cfg.Worker.MaxRetryCount),
		)
		consumerErrors <- queueClient.Consume(ctx, processor.Process, cfg.Worker.Concurrency)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-consumerErrors:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consumer error: %w", err)
		}
		return nil

	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
		cancel()

		// Consume returns once in-flight events are written
		select {
		case <-consumerErrors:
		case <-time.After(cfg.API.ShutdownTimeout):
			logger.Warn("timed out waiting for in-flight events")
		}

		logger.Info("worker stopped gracefully")
		return nil
	}
}

// serveMetrics exposes the worker's collectors on port
func serveMetrics(recorder *metrics.Recorder, port int, logger *slog.Logger) {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           recorder.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("worker metrics listening", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", slog.String("error", err.Error()))
	}
}
