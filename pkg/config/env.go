package config

const (
	EnvStoreDriver       = "STORE_DRIVER"
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"
	EnvMemberSeedFile    = "MEMBER_SEED_FILE"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvWaitlistEnabled      = "WAITLIST_ENABLED"
	EnvPromotionPolicy      = "WAITLIST_PROMOTION_POLICY"
	EnvMaxWriteAttempts     = "MAX_WRITE_ATTEMPTS"
	EnvWriteConflictBackoff = "WRITE_CONFLICT_BACKOFF"
	EnvCascadeBatchSize     = "CASCADE_BATCH_SIZE"

	EnvRedisAddr      = "REDIS_ADDR"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvRedisDB        = "REDIS_DB"
	EnvRedisTLS       = "REDIS_TLS"
	EnvMemberCacheTTL = "MEMBER_CACHE_TTL"

	EnvEventsBroker  = "EVENTS_BROKER"
	EnvEventsTopic   = "EVENTS_TOPIC"
	EnvRabbitMQURL   = "RABBITMQ_URL"
	EnvRabbitMQQueue = "RABBITMQ_QUEUE"
)
