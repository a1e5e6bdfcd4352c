package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	SQLitePath        string
	PostgresDSN       string
	RedisAddr         string
	UseKafka          bool
	KafkaBrokers      []string
	KafkaTopicAuction string
	ClickHouseAddr    string
	ClickHouseDB      string
	CacheTTL          time.Duration
	RelayPeriod       time.Duration
	RelayBatchSize    int
	RelayMaxAttempts  int
	OutboxVisibility  time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	HTTPPort          string
}

func LoadConfig() *Config {
	getEnv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	getDuration := func(key string, fallback time.Duration) time.Duration {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
		return fallback
	}

	getInt := func(key string, fallback int) int {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return fallback
	}

	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")

	return &Config{
		SQLitePath:        getEnv("SQLITE_PATH", "./auctionlab.db"),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		UseKafka:          getEnv("USE_KAFKA", "false") == "true",
		KafkaBrokers:      kafkaBrokers,
		KafkaTopicAuction: getEnv("KAFKA_TOPIC", "auction-events"),
		ClickHouseAddr:    getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:      getEnv("CLICKHOUSE_DB", "auctionlab"),
		CacheTTL:          getDuration("CACHE_TTL", 5*time.Minute),
		RelayPeriod:       getDuration("RELAY_PERIOD", 500*time.Millisecond),
		RelayBatchSize:    getInt("RELAY_BATCH_SIZE", 20),
		RelayMaxAttempts:  getInt("RELAY_MAX_ATTEMPTS", 10),
		OutboxVisibility:  getDuration("OUTBOX_VISIBILITY", 30*time.Second),
		BackoffBase:       getDuration("BACKOFF_BASE", time.Second),
		BackoffMax:        getDuration("BACKOFF_MAX", time.Minute),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
	}
}
