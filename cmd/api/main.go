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

	"github.com/Raymond9734/congregation-console/internal/backend"
	"github.com/Raymond9734/congregation-console/internal/config"
	"github.com/Raymond9734/congregation-console/internal/db"
	"github.com/Raymond9734/congregation-console/internal/handler"
	"github.com/Raymond9734/congregation-console/internal/logging"
	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/queue"
	"github.com/Raymond9734/congregation-console/internal/repository"
	"github.com/Raymond9734/congregation-console/internal/service"
	"github.com/Raymond9734/congregation-console/internal/session"
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
	logger.Info("starting congregation console API")

	if err := run(cfg, logger); err != nil {
		logger.Error("api server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}

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

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("connected to database")

	// One Redis connection serves sessions, locks, the cache and the event queue
	redisClient, err := session.NewRedisClient(ctx, cfg.Queue.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	events := queue.NewRedisQueue(redisClient, cfg.Queue.QueueName, logger)
	recorder.WatchQueueDepth(events.DepthProbe(2 * time.Second))

	members, err := backend.NewClient(backend.Config{
		BaseURL:  cfg.Backend.BaseURL,
		APIToken: cfg.Backend.APIToken,
		Timeout:  cfg.Backend.Timeout,
	}, nil, logger)
	if err != nil {
		return err
	}

	// Initialize services
	templateSvc := service.NewTemplateService(cfg.Wizard.BallotPreviewLink, cfg.Wizard.RegisterPreviewLink)
	audienceSvc := service.NewAudienceService(members, recorder, logger)
	previewSvc := service.NewPreviewService(audienceSvc, templateSvc, cfg.Wizard.RatePerMessage, cfg.Wizard.PreviewSampleSize)
	submissionSvc := service.NewSubmissionService(members, time.Now, recorder, logger)
	campaignSvc := service.NewCampaignListService(
		members,
		session.NewCampaignCache(redisClient, cfg.Wizard.CampaignCacheTTL),
		recorder,
		logger,
	)
	sessionSvc := service.NewSessionService(service.SessionDeps{
		Store:         session.NewRedisStore(redisClient, cfg.Wizard.SessionTTL, logger),
		Locker:        session.NewRedisLocker(redisClient, cfg.Wizard.SubmitLockTTL),
		Audience:      audienceSvc,
		Previews:      previewSvc,
		Submissions:   submissionSvc,
		Campaigns:     campaignSvc,
		Publisher:     events,
		SubmitTimeout: cfg.Wizard.SubmitTimeout,
		Logger:        logger,
	})

	// Initialize handlers
	router := handler.NewRouter(handler.RouterDeps{
		Wizard:      handler.NewWizardHandler(sessionSvc, logger),
		Campaigns:   handler.NewCampaignHandler(campaignSvc, logger),
		Submissions: handler.NewSubmissionHandler(repository.NewSubmissionRepository(database.DB), logger),
		Health: handler.NewHealthHandler(map[string]handler.HealthChecker{
			"database": database,
			"redis":    events,
			"backend":  members,
		}, logger),
		Metrics: recorder,
		Logger:  logger,
	})

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Wizard.SubmitTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API server listening", slog.String("addr", addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))

		// In-flight submissions finish within SUBMIT_TIMEOUT
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
		return nil
	}
}
