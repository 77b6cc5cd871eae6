package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration. Values come from the
// environment so main stays lean.
type Server struct {
	Addr string

	// BootstrapPrincipal is the only caller allowed to add or remove
	// regulators. It stands in for the ledger deployer identity.
	BootstrapPrincipal string

	JWTSigningKey string

	// PostgresDSN selects the SQL stores when non-empty; otherwise the
	// process runs on in-memory stores.
	PostgresDSN string

	Redis RedisConfig

	Kafka KafkaConfig
}

// RedisConfig controls the optional Redis-backed suspicious activity store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the optional Kafka audit event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("PHARMATRACE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	bootstrap := os.Getenv("PHARMATRACE_BOOTSTRAP_PRINCIPAL")
	if bootstrap == "" {
		bootstrap = "bootstrap-admin"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "pharmatrace.audit.events"
	}

	return Server{
		Addr:               addr,
		BootstrapPrincipal: bootstrap,
		JWTSigningKey:      jwtSigningKey,
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
		},
	}
}
