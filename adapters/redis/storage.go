// Package redis implements the quota store on Redis so that rate limits are
// shared by every server instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"habitquest/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"HABITQUEST_RATELIMIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"HABITQUEST_RATELIMIT_REDIS_PASSWORD" secret:"true"`
	DB           int           `json:"db" env:"HABITQUEST_RATELIMIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"HABITQUEST_RATELIMIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"HABITQUEST_RATELIMIT_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"HABITQUEST_RATELIMIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"HABITQUEST_RATELIMIT_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"HABITQUEST_RATELIMIT_REDIS_WRITE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// QuotaStore keeps one counter per (actor, key, window):
// - quota:{actor_id}:{key}:{window_start_unix} -> int64, expires at the window end
type QuotaStore struct {
	client *redis.Client
}

// New creates a new Redis-backed quota store with the provided configuration
func New(config Config) (*QuotaStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &QuotaStore{client: client}, nil
}

// NewWithClient creates a QuotaStore using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *QuotaStore {
	return &QuotaStore{client: client}
}

// Close closes the Redis connection
func (s *QuotaStore) Close() error {
	return s.client.Close()
}

func quotaKey(req core.QuotaRequest) string {
	return fmt.Sprintf("quota:%s:%s:%d", req.ActorID, req.Key, req.WindowStart().Unix())
}

// admitScript checks and increments in one step. The expiry is set on the
// first hit so abandoned windows clean themselves up.
var admitScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])
	local current = tonumber(redis.call('GET', key) or '0')

	if current >= limit then
		return {0, current}
	end

	current = redis.call('INCR', key)
	if current == 1 then
		redis.call('PEXPIRE', key, ttl)
	end
	return {1, current}
`)

// AdmitQuota atomically admits one call if the window counter is below the limit.
func (s *QuotaStore) AdmitQuota(ctx context.Context, req core.QuotaRequest) (core.QuotaResult, error) {
	if req.Window <= 0 {
		return core.QuotaResult{}, errors.New("quota window must be positive")
	}
	reset := req.ResetAt()
	ttl := reset.Sub(req.At.UTC())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	raw, err := admitScript.Run(ctx, s.client, []string{quotaKey(req)}, req.Limit, ttl.Milliseconds()).Result()
	if err != nil {
		return core.QuotaResult{}, fmt.Errorf("failed to admit quota: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return core.QuotaResult{}, errors.New("unexpected result type from Redis script")
	}
	allowed, ok1 := vals[0].(int64)
	current, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return core.QuotaResult{}, errors.New("unexpected result type from Redis script")
	}
	return core.QuotaResult{Allowed: allowed == 1, Current: current, Limit: req.Limit, ResetAt: reset}, nil
}
