package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env     string
	Log     LogConfig
	Server  ServerConfig
	Redis   RedisConfig
	Store   StoreConfig
	Local   LocalConfig
	Sync    SyncConfig
	Kafka   KafkaConfig
	Metrics MetricsConfig
}

type LogConfig struct {
	Level    string
	Mode     string
	Encoding string
}

type ServerConfig struct {
	HTTPAddr string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// StoreConfig points at the remote store's request/response API.
type StoreConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// LocalConfig covers the durable on-device storage shared by the TTL cache
// and the pending-mutation store.
type LocalConfig struct {
	DBPath string
}

type SyncConfig struct {
	DrainInterval    time.Duration
	ProbeInterval    time.Duration
	MaxRetries       int
	SnapshotCacheTTL time.Duration
	CacheSweep       time.Duration
}

type KafkaConfig struct {
	Enabled              bool
	Brokers              []string
	ProducerRetryMax     int
	ProducerRequiredAcks int
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Mode:     getEnv("LOG_MODE", "development"),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Store: StoreConfig{
			BaseURL: getEnv("STORE_BASE_URL", "http://localhost:8090/api/v1"),
			Token:   getEnv("STORE_API_TOKEN", ""),
			Timeout: getEnvAsDuration("STORE_TIMEOUT", 12*time.Second),
		},
		Local: LocalConfig{
			DBPath: getEnv("LOCAL_DB_PATH", "queuesync.db"),
		},
		Sync: SyncConfig{
			DrainInterval:    getEnvAsDuration("SYNC_DRAIN_INTERVAL", 60*time.Second),
			ProbeInterval:    getEnvAsDuration("SYNC_PROBE_INTERVAL", 15*time.Second),
			MaxRetries:       getEnvAsInt("SYNC_MAX_RETRIES", 3),
			SnapshotCacheTTL: getEnvAsDuration("SYNC_SNAPSHOT_CACHE_TTL", 2*time.Second),
			CacheSweep:       getEnvAsDuration("SYNC_CACHE_SWEEP_INTERVAL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:              getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:              getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ProducerRetryMax:     getEnvAsInt("KAFKA_PRODUCER_RETRY_MAX", 3),
			ProducerRequiredAcks: getEnvAsInt("KAFKA_PRODUCER_REQUIRED_ACKS", 1),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", ":9102"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Store.BaseURL == "" {
		return fmt.Errorf("store base URL is required")
	}

	if c.Store.Timeout <= 0 {
		return fmt.Errorf("invalid store timeout: %v", c.Store.Timeout)
	}

	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", c.Sync.MaxRetries)
	}

	if c.Local.DBPath == "" {
		return fmt.Errorf("local DB path is required")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
