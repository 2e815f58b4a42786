// Package main provides the API server entry point for the points leaderboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/points-leaderboard/internal/api"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/indexer"
	"github.com/points-leaderboard/internal/logging"
	"github.com/points-leaderboard/internal/metrics"
	"github.com/points-leaderboard/internal/service"
	"github.com/points-leaderboard/internal/tracing"
)

func main() {
	fmt.Println("Points Leaderboard API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	metrics.InitPrometheus()

	indexerClient := indexer.NewClient(cfg.Indexer)
	logger.WithFields(map[string]interface{}{
		"endpoint":        cfg.Indexer.Endpoint,
		"timeout":         cfg.Indexer.Timeout.String(),
		"maxAttempts":     cfg.Indexer.MaxAttempts,
		"exactTierCounts": cfg.Indexer.ExactTierCounts,
	}).Info("Indexer client initialized")

	userService := service.NewUserService(indexerClient, cfg.Indexer.ExactTierCounts)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Indexer.Timeout*time.Duration(cfg.Indexer.MaxAttempts) + 5*time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.RateLimit.RPS,
		RateLimitBurst:  cfg.RateLimit.Burst,
		TrustProxy:      cfg.RateLimit.TrustProxy,
	}

	server := api.NewServer(serverConfig, userService, indexerClient)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return
	}

	logger.Info("Server exited")
}
