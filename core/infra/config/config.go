package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultNATSURL       = "nats://localhost:4222"
	defaultRedisURL      = "redis://localhost:6379"
	defaultUpstreamURL   = "http://127.0.0.1:3000"
	defaultTimeoutConfig = "config/timeouts.yaml"
	defaultMetricsAddr   = ":9105"

	// Cold starts load multi-GB checkpoints; the budget has to cover that.
	defaultReadinessMaxWait = 300 * time.Second
	defaultReadinessPoll    = 2 * time.Second

	// Outputs above this size (base64 images) are offloaded to the result store.
	defaultResultInlineLimit = 512 * 1024

	envNATSURL           = "NATS_URL"
	envRedisURL          = "REDIS_URL"
	envUpstreamURL       = "UPSTREAM_URL"
	envTimeoutConfigPath = "TIMEOUT_CONFIG_PATH"
	envMetricsAddr       = "METRICS_ADDR"
	envReadinessMaxWait  = "READINESS_MAX_WAIT"
	envReadinessPoll     = "READINESS_POLL_INTERVAL"
	envResultInlineLimit = "RESULT_INLINE_LIMIT"
)

// Config holds runtime configuration for the relay worker.
type Config struct {
	NatsURL           string
	RedisURL          string
	UpstreamURL       string
	TimeoutConfigPath string
	MetricsAddr       string
	ReadinessMaxWait  time.Duration
	ReadinessPoll     time.Duration
	ResultInlineLimit int
}

// Load returns configuration using environment variables with sane defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		NatsURL:           envOrDefault(envNATSURL, defaultNATSURL),
		RedisURL:          envOrDefault(envRedisURL, defaultRedisURL),
		UpstreamURL:       envOrDefault(envUpstreamURL, defaultUpstreamURL),
		TimeoutConfigPath: envOrDefault(envTimeoutConfigPath, defaultTimeoutConfig),
		MetricsAddr:       envOrDefault(envMetricsAddr, defaultMetricsAddr),
		ReadinessMaxWait:  durationEnv(envReadinessMaxWait, defaultReadinessMaxWait),
		ReadinessPoll:     durationEnv(envReadinessPoll, defaultReadinessPoll),
		ResultInlineLimit: intEnv(envResultInlineLimit, defaultResultInlineLimit),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	// Bare integers are taken as seconds.
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func intEnv(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return n
	}
	return def
}
