/**
 * @description
 * This is the main entry point for the signup service. It loads configuration,
 * opens the configured store backend, brings both tables to the current
 * schema, connects the optional event broker and rate limiter, and serves the
 * HTTP API until it receives SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Intake rate limiting shared across replicas.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Event publishing.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/signup-service/internal/api"
	"github.com/transfa/signup-service/internal/app"
	"github.com/transfa/signup-service/internal/config"
	"github.com/transfa/signup-service/internal/store"
	"github.com/transfa/signup-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if err := cfg.RequireServer(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"server config incomplete\" err=%v", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	logger.Info("starting signup-service", "port", cfg.ServerPort, "backend", cfg.StoreBackend)

	ctx := context.Background()

	stores, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	if _, err := stores.MigrateAll(ctx); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	publisher := rabbitmq.Connect(cfg.RabbitMQURL, cfg.EventExchange, logger)
	defer publisher.Close()

	service := app.NewService(stores.Signups, stores.Staff, publisher, logger, app.Options{
		JWTSecret:     cfg.JWTSecret,
		JWTTTL:        cfg.JWTTTL(),
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	})

	if redisClient := connectRedis(cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		service.SetRateLimiter(app.NewRedisIntakeLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.IntakeRateLimitPerMinute))
	}

	handler := api.NewHandler(service, cfg.PaymentWebhookSecret, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}

// connectRedis returns nil when rate limiting cannot be enabled; intake then
// runs unlimited.
func connectRedis(redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; intake rate limiting disabled")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; intake rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; intake rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
