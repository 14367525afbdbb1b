// Package memory stores job result payloads too large to travel inline on
// the bus (base64-encoded images routinely run into megabytes) and hands
// out redis:// pointers to them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sdrelay/sdrelay/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	pointerPrefix   = "redis://"
	resultKeyPrefix = "res:"

	// result TTL guards against unbounded Redis growth; configurable via env.
	defaultResultTTL       = 24 * time.Hour
	defaultRedisOpTimeout  = 2 * time.Second
	envResultTTLInSeconds  = "RESULT_TTL_SECONDS"
	envResultTTLAsDuration = "RESULT_TTL" // accepts ParseDuration values (e.g. 24h)
)

// Store defines access to the result payload store.
type Store interface {
	PutResult(ctx context.Context, key string, data []byte) error
	GetResult(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// RedisStore implements Store using Redis.
type RedisStore struct {
	client    *redis.Client
	resultTTL time.Duration
}

// NewRedisStore constructs a Redis-backed store from a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}

	ttl := defaultResultTTL
	if v := os.Getenv(envResultTTLInSeconds); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(envResultTTLAsDuration); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{client: client, resultTTL: ttl}, nil
}

func (s *RedisStore) PutResult(ctx context.Context, key string, data []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisOpTimeout)
	defer cancel()
	return s.client.Set(cctx, key, data, s.resultTTL).Err()
}

func (s *RedisStore) GetResult(ctx context.Context, key string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRedisOpTimeout)
	defer cancel()
	return s.client.Get(cctx, key).Bytes()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MakeResultKey constructs the result key for a given job ID.
func MakeResultKey(jobID string) string {
	return resultKeyPrefix + jobID
}

// PointerForKey formats a Redis key as a redis:// pointer.
func PointerForKey(key string) string {
	return pointerPrefix + key
}

// KeyFromPointer parses a redis:// pointer and returns the key component.
func KeyFromPointer(ptr string) (string, error) {
	if ptr == "" {
		return "", errors.New("empty pointer")
	}
	if !strings.HasPrefix(ptr, pointerPrefix) {
		return "", fmt.Errorf("invalid pointer prefix: %s", ptr)
	}
	key := strings.TrimPrefix(ptr, pointerPrefix)
	if key == "" {
		return "", errors.New("missing key in pointer")
	}
	return key, nil
}
