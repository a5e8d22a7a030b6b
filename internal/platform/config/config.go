package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Built from environment
// variables so main stays lean.
type Server struct {
	Addr string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	// Signing keys for verification tokens, keyed by version tag. The
	// ActiveKeyID names the key new tokens are signed with; older entries
	// remain valid for verification during rotation.
	SigningKeys map[string]string
	ActiveKeyID string
	TokenIssuer string

	// AuthJWTKey verifies actor tokens minted by the external auth
	// collaborator. Authentication itself happens there; this service only
	// reads the asserted identity and role.
	AuthJWTKey string

	// AllocatorRetries bounds retries when the document counter hits a
	// serialization failure before surfacing contention to the caller.
	AllocatorRetries int

	// ScanRateLimit is the per-actor request budget for the scan endpoint
	// within ScanRateWindow. Zero disables limiting.
	ScanRateLimit  int
	ScanRateWindow time.Duration
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdle     time.Duration
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis client settings. Empty URL means Redis is not
// configured and redis-backed features degrade gracefully.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the notification publisher settings. Empty seeds means
// events are logged and dropped.
type KafkaConfig struct {
	Seeds []string
	Topic string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr: envOr("PERMITGATE_ADDR", ":8080"),
		Postgres: PostgresConfig{
			DSN:             os.Getenv("PERMITGATE_POSTGRES_DSN"),
			MaxOpenConns:    envInt("PERMITGATE_POSTGRES_MAX_OPEN", 25),
			MaxIdleConns:    envInt("PERMITGATE_POSTGRES_MAX_IDLE", 5),
			ConnMaxIdle:     5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PERMITGATE_REDIS_URL"),
			PoolSize:     envInt("PERMITGATE_REDIS_POOL_SIZE", 10),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: envOr("PERMITGATE_KAFKA_TOPIC", "permitgate.permit-events"),
		},
		SigningKeys:      map[string]string{},
		ActiveKeyID:      envOr("PERMITGATE_TOKEN_KEY_ID", "v1"),
		TokenIssuer:      envOr("PERMITGATE_TOKEN_ISSUER", "permitgate"),
		AllocatorRetries: envInt("PERMITGATE_ALLOCATOR_RETRIES", 3),
		ScanRateLimit:    envInt("PERMITGATE_SCAN_RATE_LIMIT", 30),
		ScanRateWindow:   time.Minute,
	}

	if seeds := os.Getenv("PERMITGATE_KAFKA_SEEDS"); seeds != "" {
		cfg.Kafka.Seeds = strings.Split(seeds, ",")
	}

	key := os.Getenv("PERMITGATE_TOKEN_SIGNING_KEY")
	if key == "" {
		// Development default - must be overridden in production.
		key = "dev-secret-key-change-in-production"
	}
	cfg.SigningKeys[cfg.ActiveKeyID] = key

	cfg.AuthJWTKey = os.Getenv("PERMITGATE_AUTH_JWT_KEY")
	if cfg.AuthJWTKey == "" {
		cfg.AuthJWTKey = key
	}

	// Retired keys stay verifiable: PERMITGATE_TOKEN_RETIRED_KEYS=v0:oldsecret,...
	if retired := os.Getenv("PERMITGATE_TOKEN_RETIRED_KEYS"); retired != "" {
		for _, pair := range strings.Split(retired, ",") {
			kid, secret, ok := strings.Cut(pair, ":")
			if ok && kid != "" && secret != "" {
				cfg.SigningKeys[kid] = secret
			}
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
