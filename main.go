package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"datachat/agent"
	"datachat/config"
	"datachat/database"
	"datachat/llmclient"
	"datachat/web"
	"datachat/web/services"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	store, err := database.NewPostgresStore(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure database schema", zap.Error(err))
	}

	client := llmclient.New(cfg, logger)
	chatAgent := agent.New(cfg, client, logger)

	datasetCache, err := services.NewDatasetCache(cfg.DatasetCacheSize, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dataset cache", zap.Error(err))
	}
	messageService := services.NewMessageService(store, logger)
	sessionService := services.NewSessionService(store, logger)
	streamService := services.NewStreamService(logger)
	uploadService := services.NewUploadService(store, datasetCache, cfg, logger)
	chatService := services.NewChatService(chatAgent, store, messageService, sessionService, streamService, datasetCache, logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cleanupService := web.NewCleanupService(store, chatAgent, logger)
	go web.StartSessionCleanup(ctx, cfg, cleanupService, logger)

	webServer := web.NewServer(chatService, sessionService, uploadService, logger, cfg)

	port := fmt.Sprintf(":%d", cfg.WebPort)
	logger.Info("Starting data chat web server", zap.String("port", port))
	if err := webServer.Start(ctx, port); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}
