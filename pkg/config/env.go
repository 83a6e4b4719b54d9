package config

const (
	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"

	EnvMongoEnabled          = "MONGO_ENABLED"
	EnvMongoURI              = "MONGO_URI"
	EnvMongoDatabaseName     = "MONGO_DATABASE_NAME"
	EnvMongoDonorsCollection = "MONGO_DONORS_COLLECTION"
	EnvMongoConnTimeout      = "MONGO_CONN_TIMEOUT"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	// Matching engine
	EnvGridCellSize       = "GRID_CELL_SIZE_DEGREES"
	EnvDonationCooldown   = "DONATION_COOLDOWN"
	EnvRequestTTLCritical = "REQUEST_TTL_CRITICAL"
	EnvRequestTTLHigh     = "REQUEST_TTL_HIGH"
	EnvRequestTTLMedium   = "REQUEST_TTL_MEDIUM"
	EnvRequestTTLLow      = "REQUEST_TTL_LOW"
	EnvSweepInterval      = "EXPIRY_SWEEP_INTERVAL"
	EnvRequestRetention   = "REQUEST_RETENTION"
	EnvEventBufferSize    = "EVENT_BUFFER_SIZE"
	EnvReservationShards  = "RESERVATION_SHARDS"
	EnvMaxRadiusMeters    = "MAX_RADIUS_METERS"
)
