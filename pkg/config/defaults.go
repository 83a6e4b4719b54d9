package config

import "time"

const (
	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMongoEnabled          = false
	DefaultMongoURI              = "mongodb://localhost:27017"
	DefaultMongoDatabaseName     = "bloodmatch"
	DefaultMongoDonorsCollection = "donors"
	DefaultMongoConnTimeout      = 10 * time.Second

	DefaultRateLimitRequests = 120
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 10 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 64 * 1024 // 64KB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultGridCellSizeDegrees = 0.05
	DefaultDonationCooldown    = 90 * 24 * time.Hour
	DefaultRequestTTLCritical  = 6 * time.Hour
	DefaultRequestTTLHigh      = 24 * time.Hour
	DefaultRequestTTLMedium    = 72 * time.Hour
	DefaultRequestTTLLow       = 7 * 24 * time.Hour
	DefaultSweepInterval       = 30 * time.Second
	DefaultRequestRetention    = 24 * time.Hour
	DefaultEventBufferSize     = 1024
	DefaultReservationShards   = 64
	DefaultMaxRadiusMeters     = 500_000.0
)
