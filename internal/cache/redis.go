// Package cache provides trailing-config store implementations
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"risk_engine/internal/core"

	"github.com/redis/go-redis/v9"
)

const trailingKeyPrefix = "risk:trailing_cfg:"

// RedisTrailingStore implements core.ITrailingConfigStore on Redis, so the
// strategy engine that opens positions and this process can share trailing
// parameters.
type RedisTrailingStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisTrailingStore connects to Redis and verifies the connection.
// A zero ttl keeps entries until the position closes.
func NewRedisTrailingStore(addr, password string, db int, ttl time.Duration) (*RedisTrailingStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}

	return &RedisTrailingStore{rdb: rdb, ttl: ttl}, nil
}

func trailingKey(positionID string) string {
	return trailingKeyPrefix + positionID
}

// Get resolves the trailing config for a position; (nil, nil) when absent
func (s *RedisTrailingStore) Get(ctx context.Context, positionID string) (*core.TrailingConfig, error) {
	data, err := s.rdb.Get(ctx, trailingKey(positionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get trailing config %s: %w", positionID, err)
	}

	var cfg core.TrailingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("redis: decode trailing config %s: %w", positionID, err)
	}
	return &cfg, nil
}

// Set stores the trailing config for a position
func (s *RedisTrailingStore) Set(ctx context.Context, positionID string, cfg core.TrailingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("redis: encode trailing config %s: %w", positionID, err)
	}
	if err := s.rdb.Set(ctx, trailingKey(positionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set trailing config %s: %w", positionID, err)
	}
	return nil
}

// Remove discards the config once the position is closed
func (s *RedisTrailingStore) Remove(ctx context.Context, positionID string) error {
	if err := s.rdb.Del(ctx, trailingKey(positionID)).Err(); err != nil {
		return fmt.Errorf("redis: remove trailing config %s: %w", positionID, err)
	}
	return nil
}

// Close releases the Redis connection
func (s *RedisTrailingStore) Close() error {
	return s.rdb.Close()
}
