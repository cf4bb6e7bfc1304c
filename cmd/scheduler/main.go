/**
 * @description
 * This is the main entry point for the signup scheduler. It is a non-HTTP,
 * long-running process that periodically writes the staff stats snapshot back
 * onto staff accounts.
 */
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/transfa/signup-service/internal/app"
	"github.com/transfa/signup-service/internal/config"
	"github.com/transfa/signup-service/internal/store"
	"github.com/transfa/signup-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	logger := cfg.NewLogger()

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

	service := app.NewService(stores.Signups, stores.Staff, publisher, logger, app.Options{})
	jobs := app.NewJobs(service, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for running jobs to finish
	logger.Info("scheduler stopped gracefully")
}
