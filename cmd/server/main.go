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

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/crypto"
	"github.com/chess-activity-tracker/internal/domain"
	"github.com/chess-activity-tracker/internal/handler"
	"github.com/chess-activity-tracker/internal/kafka"
	"github.com/chess-activity-tracker/internal/platform"
	"github.com/chess-activity-tracker/internal/postgres"
	"github.com/chess-activity-tracker/internal/redis"
	"github.com/chess-activity-tracker/internal/sync"
	"github.com/chess-activity-tracker/internal/websocket"
	"github.com/chess-activity-tracker/internal/worker"
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

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis (optional)
	var cache *redis.Cache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err = redis.NewCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", "error", err)
			cache = nil
		} else {
			defer cache.Close()
			logger.Info("connected to Redis")
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Request pacer, shared across instances when Redis is available
	pacer := platform.NewPacer(logger)
	pacer.SetSpacing(domain.PlatformChessCom, cfg.Platforms.ChessCom.RequestSpacing)
	pacer.SetSpacing(domain.PlatformLichess, cfg.Platforms.Lichess.RequestSpacing)
	if cache != nil {
		pacer.SetReserver(cache)
	}

	// Platform adapters
	adapters := []platform.Adapter{
		platform.NewChessCom(&cfg.Platforms.ChessCom, pacer, logger),
		platform.NewLichess(&cfg.Platforms.Lichess, pacer, logger),
	}

	// Token sealer; without a key, user-supplied platform tokens are
	// rejected at link time
	var sealer *crypto.Sealer
	if cfg.Crypto.TokenKey != "" {
		key, err := crypto.ParseKey(cfg.Crypto.TokenKey)
		if err != nil {
			logger.Error("invalid token encryption key", "error", err)
			os.Exit(1)
		}
		sealer, err = crypto.NewSealer(key)
		if err != nil {
			logger.Error("failed to initialize token sealer", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no token encryption key configured, platform tokens disabled")
	}

	// Initialize the sync orchestrator
	syncService := sync.NewService(repo, adapters, &cfg.Sync, &cfg.Platforms, logger)
	syncService.SetHub(wsHub)
	if cache != nil {
		syncService.SetCache(cache)
	}
	if sealer != nil {
		syncService.SetSealer(sealer)
	}

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(syncService, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for externally enqueued sync requests
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, syncService, logger)
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
	httpHandler := handler.NewHandler(repo, syncService, wsHub, sealer, logger)
	if cache != nil {
		httpHandler.SetCache(cache)
	}

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
