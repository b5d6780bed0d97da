package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sportrank/internal/completion"
	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/handler"
	"github.com/sportrank/internal/kafka"
	"github.com/sportrank/internal/matchmaking"
	"github.com/sportrank/internal/postgres"
	"github.com/sportrank/internal/redis"
	"github.com/sportrank/internal/service"
	"github.com/sportrank/internal/skills"
	"github.com/sportrank/internal/websocket"
	"github.com/sportrank/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	ratingCache, err := redis.NewRatingCache(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer ratingCache.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize Kafka change notifier
	var changeNotifier *kafka.Notifier
	var pipelineNotifier completion.Notifier
	if cfg.Kafka.Enabled {
		changeNotifier, err = kafka.NewNotifier(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create change notifier, continuing without Kafka", "error", err)
		} else {
			pipelineNotifier = changeNotifier
			logger.Info("change notifier started", "topic", cfg.Kafka.ChangesTopic)
		}
	}

	// Assemble the rating core
	skillAggregator := skills.NewAggregator(postgresRepo, logger)
	pipeline := completion.NewPipeline(postgresRepo, skillAggregator, pipelineNotifier, logger)
	matchmaker := matchmaking.NewService(
		service.NewRatingSource(postgresRepo, ratingCache),
		postgresRepo,
		matchmaking.Weights{
			Rating:        cfg.Matchmaking.RatingWeight,
			Skills:        cfg.Matchmaking.SkillWeight,
			Social:        cfg.Matchmaking.SocialBonus,
			RecentPenalty: cfg.Matchmaking.RecentPenalty,
		},
		cfg.Matchmaking.DefaultTolerance,
		cfg.Matchmaking.MaxCandidates,
		logger,
	)
	ratingService := service.NewRatingService(
		pipeline,
		matchmaker,
		skillAggregator,
		postgresRepo,
		ratingCache,
		wsHub,
		&cfg.Rating,
		logger,
	)

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(
		ratingCache,
		postgresRepo,
		&cfg.Sync,
		logger,
	)

	// Rebuild the rating cache from Postgres on startup (recovery)
	logger.Info("rebuilding rating caches from database")
	if err := syncWorker.SyncAllFromDatabase(ctx); err != nil {
		logger.Warn("failed to rebuild caches on startup", "error", err)
	}

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for completion request ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.CompletionsTopic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, ratingService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(ratingService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Flush pending change events
	if changeNotifier != nil {
		if err := changeNotifier.Close(); err != nil {
			logger.Error("failed to close change notifier", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
