/**
 * @description
 * This package handles the configuration management for the rental-service. It uses the
 * Viper library to read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultServerPort          = "8080"
	defaultLogLevel            = "info"
	defaultRateLimitPrefix     = "rental:rate_limit"
	defaultRateLimitPerMinute  = 60
	defaultEventsExchange      = "rental.events"
	defaultOutboxBatchSize     = 50
	defaultOutboxPollInterval  = 1200
	defaultPayoutCurrency      = "NGN"
	defaultOverdueSchedule     = "*/15 * * * *"
	defaultCORSAllowedOrigins  = "https://*,http://*"
	defaultShutdownTimeoutSecs = 10
)

// Config holds all the configuration variables for the rental-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	LogLevel               string `mapstructure:"LOG_LEVEL"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RunMigrations          bool   `mapstructure:"RUN_MIGRATIONS"`
	OwnerAccount           string `mapstructure:"OWNER_ACCOUNT"`
	JWTSigningKey          string `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer              string `mapstructure:"JWT_ISSUER"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix   string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RateLimitPerMinute     int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	RentalEventsExchange   string `mapstructure:"RENTAL_EVENTS_EXCHANGE"`
	OutboxBatchSize        int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxPollIntervalMS   int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	PayoutAPIBaseURL       string `mapstructure:"PAYOUT_API_BASE_URL"`
	PayoutAPIKey           string `mapstructure:"PAYOUT_API_KEY"`
	PayoutCurrency         string `mapstructure:"PAYOUT_CURRENCY"`
	OverdueSweepSchedule   string `mapstructure:"OVERDUE_SWEEP_SCHEDULE"`
	CORSAllowedOrigins     string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ShutdownTimeoutSeconds int    `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("RUN_MIGRATIONS", false)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute)
	viper.SetDefault("RENTAL_EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", defaultOutboxPollInterval)
	viper.SetDefault("PAYOUT_CURRENCY", defaultPayoutCurrency)
	viper.SetDefault("OVERDUE_SWEEP_SCHEDULE", defaultOverdueSchedule)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", defaultCORSAllowedOrigins)
	viper.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSecs)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("OWNER_ACCOUNT", "OWNER_ACCOUNT", "RENTAL_OWNER_ACCOUNT")
	_ = viper.BindEnv("JWT_SIGNING_KEY")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "RENTAL_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RENTAL_EVENTS_EXCHANGE")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("PAYOUT_API_BASE_URL")
	_ = viper.BindEnv("PAYOUT_API_KEY")
	_ = viper.BindEnv("PAYOUT_CURRENCY")
	_ = viper.BindEnv("OVERDUE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("SHUTDOWN_TIMEOUT_SECONDS")

	// A missing .env file is fine.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()
	return
}

func (c *Config) normalize() {
	c.ServerPort = strings.TrimSpace(c.ServerPort)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.OwnerAccount = strings.TrimSpace(c.OwnerAccount)
	c.JWTSigningKey = strings.TrimSpace(c.JWTSigningKey)
	c.JWTIssuer = strings.TrimSpace(c.JWTIssuer)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.PayoutAPIBaseURL = strings.TrimRight(strings.TrimSpace(c.PayoutAPIBaseURL), "/")
	c.PayoutAPIKey = strings.TrimSpace(c.PayoutAPIKey)
	c.OverdueSweepSchedule = strings.TrimSpace(c.OverdueSweepSchedule)

	if c.ServerPort == "" {
		c.ServerPort = defaultServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	c.RentalEventsExchange = strings.TrimSpace(c.RentalEventsExchange)
	if c.RentalEventsExchange == "" {
		c.RentalEventsExchange = defaultEventsExchange
	}
	c.PayoutCurrency = strings.ToUpper(strings.TrimSpace(c.PayoutCurrency))
	if c.PayoutCurrency == "" {
		c.PayoutCurrency = defaultPayoutCurrency
	}
	if c.OverdueSweepSchedule == "" {
		c.OverdueSweepSchedule = defaultOverdueSchedule
	}
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		c.CORSAllowedOrigins = defaultCORSAllowedOrigins
	}

	if c.RateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive rate limit configured; using default\" value=%d", c.RateLimitPerMinute)
		c.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if c.OutboxBatchSize <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive outbox batch size configured; using default\" value=%d", c.OutboxBatchSize)
		c.OutboxBatchSize = defaultOutboxBatchSize
	}
	if c.OutboxPollIntervalMS <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive outbox poll interval configured; using default\" value=%d", c.OutboxPollIntervalMS)
		c.OutboxPollIntervalMS = defaultOutboxPollInterval
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = defaultShutdownTimeoutSecs
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Validate reports every required key that is missing.
func (c Config) Validate() error {
	var errs []error
	if c.OwnerAccount == "" {
		errs = append(errs, errors.New("OWNER_ACCOUNT is required"))
	}
	if c.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.PayoutAPIBaseURL != "" && c.PayoutAPIKey == "" {
		errs = append(errs, errors.New("PAYOUT_API_KEY is required when PAYOUT_API_BASE_URL is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
