/**
 * @description
 * This package handles the configuration management for the core-banking service.
 * It uses Viper to read an optional .env file and environment variables.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 *
 * @notes
 * - Durations accept Go duration strings ("5s", "1m"). Invalid or non-positive
 *   values fall back to the defaults below.
 */

package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EventsDeliveryDirect = "direct"
	EventsDeliveryOutbox = "outbox"
)

const (
	defaultServerPort           = "8080"
	defaultLockTimeout          = 5 * time.Second
	defaultSchedulerInterval    = time.Minute
	defaultSchedulerConcurrency = 8
	defaultEventQueueSize       = 1024
	defaultEventWorkers         = 2
	defaultMaxConns             = 20
	defaultMinConns             = 2
	defaultRateLimitPerMinute   = 60
	defaultRateLimitPrefix      = "core-banking:rate_limit"
	defaultAuthEventsQueue      = "core_banking.user_registered"
	defaultAccountCurrency      = "USD"
)

// Config holds all the configuration variables for the core-banking service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	DatabaseReplicaURL         string `mapstructure:"DATABASE_REPLICA_URL"`
	DBMaxConns                 int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                 int32  `mapstructure:"DB_MIN_CONNS"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	AuthEventsQueue            string `mapstructure:"AUTH_EVENTS_QUEUE"`
	EventsDelivery             string `mapstructure:"EVENTS_DELIVERY"`
	EventQueueSize             int    `mapstructure:"EVENT_QUEUE_SIZE"`
	EventWorkers               int    `mapstructure:"EVENT_WORKERS"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	MovementRateLimitPerMinute int    `mapstructure:"MOVEMENT_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	JWTIssuer                  string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	IdentityServiceURL         string `mapstructure:"IDENTITY_SERVICE_URL"`
	SchedulerEnabled           bool   `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerConcurrency       int    `mapstructure:"SCHEDULER_CONCURRENCY"`
	DefaultAccountCurrency     string `mapstructure:"DEFAULT_ACCOUNT_CURRENCY"`
	MigrationsAuto             bool   `mapstructure:"MIGRATIONS_AUTO"`

	DBLockTimeout         time.Duration `mapstructure:"-"`
	SchedulerPollInterval time.Duration `mapstructure:"-"`
}

// LoadConfig reads configuration from the optional .env file in path and from
// environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("DB_MAX_CONNS", defaultMaxConns)
	viper.SetDefault("DB_MIN_CONNS", defaultMinConns)
	viper.SetDefault("DB_LOCK_TIMEOUT", defaultLockTimeout.String())
	viper.SetDefault("AUTH_EVENTS_QUEUE", defaultAuthEventsQueue)
	viper.SetDefault("EVENTS_DELIVERY", EventsDeliveryDirect)
	viper.SetDefault("EVENT_QUEUE_SIZE", defaultEventQueueSize)
	viper.SetDefault("EVENT_WORKERS", defaultEventWorkers)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("MOVEMENT_RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute)
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("SCHEDULER_POLL_INTERVAL", defaultSchedulerInterval.String())
	viper.SetDefault("SCHEDULER_CONCURRENCY", defaultSchedulerConcurrency)
	viper.SetDefault("DEFAULT_ACCOUNT_CURRENCY", defaultAccountCurrency)
	viper.SetDefault("MIGRATIONS_AUTO", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DATABASE_REPLICA_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("DB_LOCK_TIMEOUT")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTH_EVENTS_QUEUE")
	_ = viper.BindEnv("EVENTS_DELIVERY")
	_ = viper.BindEnv("EVENT_QUEUE_SIZE")
	_ = viper.BindEnv("EVENT_WORKERS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CORE_BANKING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("MOVEMENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CORE_BANKING_INTERNAL_API_KEY")
	_ = viper.BindEnv("IDENTITY_SERVICE_URL")
	_ = viper.BindEnv("SCHEDULER_ENABLED")
	_ = viper.BindEnv("SCHEDULER_POLL_INTERVAL")
	_ = viper.BindEnv("SCHEDULER_CONCURRENCY")
	_ = viper.BindEnv("DEFAULT_ACCOUNT_CURRENCY")
	_ = viper.BindEnv("MIGRATIONS_AUTO")

	// It's okay if the config file doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "error", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.DefaultAccountCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultAccountCurrency))
	if len(config.DefaultAccountCurrency) != 3 {
		slog.Warn("invalid DEFAULT_ACCOUNT_CURRENCY; using default", "value", config.DefaultAccountCurrency)
		config.DefaultAccountCurrency = defaultAccountCurrency
	}

	config.EventsDelivery = strings.ToLower(strings.TrimSpace(config.EventsDelivery))
	if config.EventsDelivery != EventsDeliveryOutbox {
		config.EventsDelivery = EventsDeliveryDirect
	}

	config.DBLockTimeout = durationOrDefault("DB_LOCK_TIMEOUT", defaultLockTimeout)
	config.SchedulerPollInterval = durationOrDefault("SCHEDULER_POLL_INTERVAL", defaultSchedulerInterval)

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = defaultMaxConns
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		config.DBMinConns = defaultMinConns
	}
	if config.EventQueueSize <= 0 {
		config.EventQueueSize = defaultEventQueueSize
	}
	if config.EventWorkers <= 0 {
		config.EventWorkers = defaultEventWorkers
	}
	if config.SchedulerConcurrency <= 0 {
		config.SchedulerConcurrency = defaultSchedulerConcurrency
	}
	if config.MovementRateLimitPerMinute < 0 {
		config.MovementRateLimitPerMinute = 0
	}

	return
}

// OutboxEnabled reports whether events go through event_outbox.
func (c Config) OutboxEnabled() bool {
	return c.EventsDelivery == EventsDeliveryOutbox
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration; using default", "key", key, "value", raw, "default", fallback.String())
		return fallback
	}
	return d
}
