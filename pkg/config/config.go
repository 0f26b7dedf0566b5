package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"swimbook/pkg/client"
	"swimbook/pkg/logger"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreDriver       string
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration
	MemberSeedFile    string

	Port string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	WaitlistEnabled      bool
	PromotionPolicy      string
	MaxWriteAttempts     int
	WriteConflictBackoff time.Duration
	CascadeBatchSize     int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	MemberCacheTTL time.Duration

	EventsBroker  string
	EventsTopic   string
	RabbitMQURL   string
	RabbitMQQueue string

	Log    *logger.Logger
	Client *client.Client
}

var (
	mongoURIRegex   = regexp.MustCompile(`^mongodb(\+srv)?://`)
	credentialRegex = regexp.MustCompile(`((?:mongodb(?:\+srv)?|amqps?)://)[^:/@]+:[^@]+@`)
)

func Load(serviceName string) *Config {
	// .env is optional; only a malformed file is worth stopping for.
	envErr := godotenv.Load()

	cfg := &Config{
		StoreDriver:       getEnvStr(EnvStoreDriver, DefaultStoreDriver),
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),
		MemberSeedFile:    getEnvStr(EnvMemberSeedFile, ""),

		Port: getEnvStr(EnvPort, DefaultPort),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		WaitlistEnabled:      getEnvBool(EnvWaitlistEnabled, DefaultWaitlistEnabled),
		PromotionPolicy:      getEnvStr(EnvPromotionPolicy, DefaultPromotionPolicy),
		MaxWriteAttempts:     getEnvNum(EnvMaxWriteAttempts, DefaultMaxWriteAttempts),
		WriteConflictBackoff: getEnvDuration(EnvWriteConflictBackoff, DefaultWriteConflictBackoff),
		CascadeBatchSize:     getEnvNum(EnvCascadeBatchSize, DefaultCascadeBatchSize),

		RedisAddr:      getEnvStr(EnvRedisAddr, DefaultRedisAddr),
		RedisPassword:  getEnvStr(EnvRedisPassword, ""),
		RedisDB:        getEnvNum(EnvRedisDB, DefaultRedisDB),
		RedisTLS:       getEnvBool(EnvRedisTLS, false),
		MemberCacheTTL: getEnvDuration(EnvMemberCacheTTL, DefaultMemberCacheTTL),

		EventsBroker:  getEnvStr(EnvEventsBroker, DefaultEventsBroker),
		EventsTopic:   getEnvStr(EnvEventsTopic, DefaultEventsTopic),
		RabbitMQURL:   getEnvStr(EnvRabbitMQURL, DefaultRabbitMQURL),
		RabbitMQQueue: getEnvStr(EnvRabbitMQQueue, DefaultRabbitMQQueue),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		cfg.Log.Fatal("Failed to parse .env file", "error", envErr)
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

// SetRedis connects to Redis when an address is configured.
func (cfg *Config) SetRedis() {
	if cfg.RedisAddr == "" {
		cfg.Log.Info("Redis not configured, using in-process caches")
		return
	}
	cfg.Client.SetRedis(cfg.Log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTLS)
}

func (cfg *Config) UsesMongo() bool {
	return cfg.StoreDriver == StoreMongo
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	switch cfg.StoreDriver {
	case StoreMongo:
		if cfg.MongoURI == "" {
			errors = append(errors, "MongoURI cannot be empty")
		} else if len(cfg.MongoURI) < 10 || !mongoURIRegex.MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
		if cfg.MongoConnTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
		}
	case StoreMemory:
	default:
		errors = append(errors, fmt.Sprintf("StoreDriver must be one of [%s, %s], got: %s", StoreMongo, StoreMemory, cfg.StoreDriver))
	}

	if cfg.RateLimitWindow <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitWindow must be positive, got: %s", cfg.RateLimitWindow))
	}
	if cfg.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}
	if cfg.IdempotencyTTL <= 0 {
		errors = append(errors, fmt.Sprintf("IdempotencyTTL must be positive, got: %s", cfg.IdempotencyTTL))
	}
	if cfg.ReadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ReadTimeout must be positive, got: %s", cfg.ReadTimeout))
	}
	if cfg.WriteTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("WriteTimeout must be positive, got: %s", cfg.WriteTimeout))
	}
	if cfg.IdleTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("IdleTimeout must be positive, got: %s", cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}

	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}

	if cfg.PromotionPolicy != PromotionFirstFit && cfg.PromotionPolicy != PromotionStrictFIFO {
		errors = append(errors, fmt.Sprintf("PromotionPolicy must be one of [%s, %s], got: %s", PromotionFirstFit, PromotionStrictFIFO, cfg.PromotionPolicy))
	}
	if cfg.MaxWriteAttempts < 1 || cfg.MaxWriteAttempts > 20 {
		errors = append(errors, fmt.Sprintf("MaxWriteAttempts must be between 1 and 20, got: %d", cfg.MaxWriteAttempts))
	}
	if cfg.WriteConflictBackoff < 0 {
		errors = append(errors, fmt.Sprintf("WriteConflictBackoff cannot be negative, got: %s", cfg.WriteConflictBackoff))
	}
	if cfg.CascadeBatchSize <= 0 {
		errors = append(errors, fmt.Sprintf("CascadeBatchSize must be positive, got: %d", cfg.CascadeBatchSize))
	}

	if cfg.RedisDB < 0 {
		errors = append(errors, fmt.Sprintf("RedisDB cannot be negative, got: %d", cfg.RedisDB))
	}
	if cfg.MemberCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("MemberCacheTTL must be positive, got: %s", cfg.MemberCacheTTL))
	}

	switch cfg.EventsBroker {
	case BrokerNone:
	case BrokerKafka:
		if cfg.EventsTopic == "" {
			errors = append(errors, "EventsTopic cannot be empty when EventsBroker is kafka")
		}
	case BrokerRabbitMQ:
		if cfg.RabbitMQURL == "" || cfg.RabbitMQQueue == "" {
			errors = append(errors, "RabbitMQURL and RabbitMQQueue are required when EventsBroker is rabbitmq")
		}
	default:
		errors = append(errors, fmt.Sprintf("EventsBroker must be one of [%s, %s, %s], got: %s", BrokerNone, BrokerKafka, BrokerRabbitMQ, cfg.EventsBroker))
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
		"store_driver", cfg.StoreDriver,
		"mongo_uri", redactURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"member_seed_file", cfg.MemberSeedFile,
		"port", cfg.Port,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"waitlist_enabled", cfg.WaitlistEnabled,
		"promotion_policy", cfg.PromotionPolicy,
		"max_write_attempts", cfg.MaxWriteAttempts,
		"write_conflict_backoff", cfg.WriteConflictBackoff,
		"cascade_batch_size", cfg.CascadeBatchSize,
		"redis_addr", cfg.RedisAddr,
		"redis_password_set", cfg.RedisPassword != "",
		"member_cache_ttl", cfg.MemberCacheTTL,
		"events_broker", cfg.EventsBroker,
		"events_topic", cfg.EventsTopic,
		"rabbitmq_url", redactURI(cfg.RabbitMQURL),
	)
}

func redactURI(uri string) string {
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

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown()
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	return max(0, offset)
}
