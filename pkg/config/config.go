package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bloodmatch/pkg/client"
	kafka_config "bloodmatch/pkg/kafka/config"
	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	MongoEnabled          bool
	MongoURI              string
	MongoDatabaseName     string
	MongoDonorsCollection string
	MongoConnTimeout      time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	GridCellSizeDegrees float64
	DonationCooldown    time.Duration
	RequestTTL          map[model.Urgency]time.Duration
	SweepInterval       time.Duration
	RequestRetention    time.Duration
	EventBufferSize     int
	ReservationShards   int
	MaxRadiusMeters     float64

	Kafka *kafka_config.Config

	Log    *logger.Logger
	Client *client.Client
}

// Load reads the configuration from the environment and exits the process
// when it is invalid.
func Load(serviceName string) *Config {
	cfg, err := LoadFromEnv(serviceName)
	if err != nil {
		log := logger.New(logger.Config{Level: logger.ERROR, Format: logger.JSON, Service: serviceName})
		log.Fatal("Invalid configuration", "error", err)
	}
	cfg.LogConfiguration()
	return cfg
}

func LoadFromEnv(serviceName string) (*Config, error) {
	cfg := &Config{
		Port:      getEnvStr(EnvPort, DefaultPort),
		LogLevel:  getEnvStr(EnvLogLevel, DefaultLogLevel),
		LogFormat: getEnvStr(EnvLogFormat, DefaultLogFormat),

		MongoEnabled:          getEnvBool(EnvMongoEnabled, DefaultMongoEnabled),
		MongoURI:              getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName:     getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoDonorsCollection: getEnvStr(EnvMongoDonorsCollection, DefaultMongoDonorsCollection),
		MongoConnTimeout:      getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		GridCellSizeDegrees: getEnvFloat(EnvGridCellSize, DefaultGridCellSizeDegrees),
		DonationCooldown:    getEnvDuration(EnvDonationCooldown, DefaultDonationCooldown),
		RequestTTL: map[model.Urgency]time.Duration{
			model.UrgencyCritical: getEnvDuration(EnvRequestTTLCritical, DefaultRequestTTLCritical),
			model.UrgencyHigh:     getEnvDuration(EnvRequestTTLHigh, DefaultRequestTTLHigh),
			model.UrgencyMedium:   getEnvDuration(EnvRequestTTLMedium, DefaultRequestTTLMedium),
			model.UrgencyLow:      getEnvDuration(EnvRequestTTLLow, DefaultRequestTTLLow),
		},
		SweepInterval:     getEnvDuration(EnvSweepInterval, DefaultSweepInterval),
		RequestRetention:  getEnvDuration(EnvRequestRetention, DefaultRequestRetention),
		EventBufferSize:   getEnvNum(EnvEventBufferSize, DefaultEventBufferSize),
		ReservationShards: getEnvNum(EnvReservationShards, DefaultReservationShards),
		MaxRadiusMeters:   getEnvFloat(EnvMaxRadiusMeters, DefaultMaxRadiusMeters),

		Client: client.NewClient(),
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Kafka = kafkaCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Log = logger.New(logger.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		AddSource: true,
		Service:   serviceName,
	})
	return cfg, nil
}

// SetMongo connects to MongoDB when persistence is enabled.
func (cfg *Config) SetMongo(ctx context.Context) error {
	if !cfg.MongoEnabled {
		return nil
	}
	return cfg.Client.ConnectMongo(ctx, cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}
	switch strings.ToLower(cfg.LogLevel) {
	case logger.DEBUG, logger.INFO, logger.WARN, logger.ERROR:
	default:
		errors = append(errors, fmt.Sprintf("LogLevel must be one of debug, info, warn, error, got: %s", cfg.LogLevel))
	}
	if f := strings.ToLower(cfg.LogFormat); f != logger.JSON && f != logger.TEXT {
		errors = append(errors, fmt.Sprintf("LogFormat must be json or text, got: %s", cfg.LogFormat))
	}

	if cfg.MongoEnabled {
		if !regexp.MustCompile(`^mongodb(\+srv)?://.+`).MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
		if cfg.MongoDonorsCollection == "" {
			errors = append(errors, "MongoDonorsCollection cannot be empty")
		}
		if cfg.MongoConnTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
		}
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"RateLimitWindow", cfg.RateLimitWindow},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"SweepInterval", cfg.SweepInterval},
		{"RequestRetention", cfg.RequestRetention},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", p.name, p.value))
		}
	}

	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}

	if cfg.GridCellSizeDegrees <= 0 || cfg.GridCellSizeDegrees > 10 {
		errors = append(errors, fmt.Sprintf("GridCellSizeDegrees must be in (0, 10], got: %g", cfg.GridCellSizeDegrees))
	}
	if cfg.DonationCooldown < 0 {
		errors = append(errors, fmt.Sprintf("DonationCooldown cannot be negative, got: %s", cfg.DonationCooldown))
	}
	for _, urgency := range []model.Urgency{model.UrgencyCritical, model.UrgencyHigh, model.UrgencyMedium, model.UrgencyLow} {
		if cfg.RequestTTL[urgency] <= 0 {
			errors = append(errors, fmt.Sprintf("RequestTTL for %s must be positive, got: %s", urgency, cfg.RequestTTL[urgency]))
		}
	}
	if cfg.EventBufferSize <= 0 {
		errors = append(errors, fmt.Sprintf("EventBufferSize must be positive, got: %d", cfg.EventBufferSize))
	}
	if cfg.ReservationShards <= 0 {
		errors = append(errors, fmt.Sprintf("ReservationShards must be positive, got: %d", cfg.ReservationShards))
	}
	if cfg.MaxRadiusMeters <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRadiusMeters must be positive, got: %g", cfg.MaxRadiusMeters))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"mongo_enabled", cfg.MongoEnabled,
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_donors_collection", cfg.MongoDonorsCollection,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"grid_cell_size_degrees", cfg.GridCellSizeDegrees,
		"donation_cooldown", cfg.DonationCooldown,
		"request_ttl_critical", cfg.RequestTTL[model.UrgencyCritical],
		"request_ttl_high", cfg.RequestTTL[model.UrgencyHigh],
		"request_ttl_medium", cfg.RequestTTL[model.UrgencyMedium],
		"request_ttl_low", cfg.RequestTTL[model.UrgencyLow],
		"sweep_interval", cfg.SweepInterval,
		"request_retention", cfg.RequestRetention,
		"event_buffer_size", cfg.EventBufferSize,
		"reservation_shards", cfg.ReservationShards,
		"max_radius_meters", cfg.MaxRadiusMeters,
	)
	cfg.Kafka.LogConfiguration(cfg.Log)
}

func (cfg *Config) GracefulShutdown(ctx context.Context) {
	cfg.Client.GracefulShutdown(ctx, cfg.Log)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
