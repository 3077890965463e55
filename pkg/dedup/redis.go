package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis-backed deduper.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the seen-set within a shared Redis instance.
	KeyPrefix string
	// TTL bounds how long an event id is remembered. Upstream retries arrive
	// within minutes, so a short TTL keeps the set small.
	TTL time.Duration
}

// RedisDeduper is a Redis-backed seen-set shared across service replicas.
type RedisDeduper struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewRedisDeduper creates and connects a RedisDeduper. It pings the Redis
// server to ensure connectivity before returning.
func NewRedisDeduper(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisDeduper, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "blogflow:seen:"
	}

	return &RedisDeduper{
		client:    rdb,
		keyPrefix: prefix,
		ttl:       ttl,
		logger:    logger.With().Str("component", "RedisDeduper").Logger(),
	}, nil
}

// Seen records id with SETNX and reports whether it already existed. The
// set-and-check is a single atomic Redis operation, so concurrent deliveries
// of the same id across replicas resolve to exactly one "not seen".
func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.keyPrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx for %s: %w", id, err)
	}
	return !ok, nil
}

// Forget deletes id's claim.
func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del for %s: %w", id, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (d *RedisDeduper) Close() error {
	d.logger.Info().Msg("Closing Redis client connection...")
	return d.client.Close()
}
