/**
 * @description
 * Configuration management for the signup service. Values come from
 * environment variables, optionally seeded from a .env file next to the
 * binary, and are read through Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding and defaults.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the signup service, the scheduler and
// the operator CLI.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	StoreBackend             string `mapstructure:"STORE_BACKEND"`
	DataDir                  string `mapstructure:"DATA_DIR"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventExchange            string `mapstructure:"EVENT_EXCHANGE"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	IntakeRateLimitPerMinute int    `mapstructure:"INTAKE_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes            int    `mapstructure:"JWT_TTL_MINUTES"`
	AdminUsername            string `mapstructure:"ADMIN_USERNAME"`
	AdminPassword            string `mapstructure:"ADMIN_PASSWORD"`
	PaymentWebhookSecret     string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	StatsRefreshSchedule     string `mapstructure:"STATS_REFRESH_SCHEDULE"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
}

// JWTTTL returns the session token lifetime.
func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

// LoadConfig reads configuration from the environment and an optional .env
// file in path. Keys required by every process are validated here; callers
// check the keys only they need with RequireServer.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_BACKEND", BackendFile)
	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("EVENT_EXCHANGE", "signup_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "signup:rate_limit")
	viper.SetDefault("INTAKE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("JWT_TTL_MINUTES", 720)
	viper.SetDefault("STATS_REFRESH_SCHEDULE", "@every 15m")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("DATA_DIR")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("INTAKE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_MINUTES")
	_ = viper.BindEnv("ADMIN_USERNAME")
	_ = viper.BindEnv("ADMIN_PASSWORD")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("STATS_REFRESH_SCHEDULE")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	config.DataDir = strings.TrimSpace(config.DataDir)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "signup:rate_limit"
	}
	if config.IntakeRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"invalid INTAKE_RATE_LIMIT_PER_MINUTE; using default\" value=%d", config.IntakeRateLimitPerMinute)
		config.IntakeRateLimitPerMinute = 10
	}
	if config.JWTTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid JWT_TTL_MINUTES; using default\" value=%d", config.JWTTTLMinutes)
		config.JWTTTLMinutes = 720
	}
	if strings.TrimSpace(config.StatsRefreshSchedule) == "" {
		config.StatsRefreshSchedule = "@every 15m"
	}

	switch config.StoreBackend {
	case BackendFile:
		if config.DataDir == "" {
			return config, fmt.Errorf("DATA_DIR is required when STORE_BACKEND=%s", BackendFile)
		}
	case BackendPostgres:
		if config.DatabaseURL == "" {
			return config, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", BackendPostgres)
		}
	default:
		return config, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendFile, BackendPostgres, config.StoreBackend)
	}
	return config, nil
}

// RequireServer validates the keys only the HTTP service needs.
func (c Config) RequireServer() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if strings.TrimSpace(c.PaymentWebhookSecret) == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return nil
}
