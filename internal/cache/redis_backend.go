package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the optional remote cache tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// DialTimeout bounds connection setup; zero uses the client default.
	DialTimeout time.Duration
}

// RedisBackend implements RemoteBackend against a Redis (or Redis-protocol
// compatible) server, the two-tier remote role the original resolver's
// redis_helper filled.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend dials (lazily — go-redis connects on first use) a Redis
// server for use as a cache's remote tier.
func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	}
	return &RedisBackend{client: redis.NewClient(opts)}
}

// Get fetches the cached wire response for key, returning (nil, nil) on a
// clean miss.
func (r *RedisBackend) Get(ctx context.Context, key string) (*RemoteEntry, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("redis get: malformed entry")
	}

	flags := data[0]
	return &RemoteEntry{
		Wire:            data[1:],
		Negative:        flags&0x01 != 0,
		DNSSECValidated: flags&0x02 != 0,
	}, nil
}

// Set stores entry under key with an expiration of ttl.
func (r *RedisBackend) Set(ctx context.Context, key string, entry *RemoteEntry, ttl time.Duration) error {
	var flags byte
	if entry.Negative {
		flags |= 0x01
	}
	if entry.DNSSECValidated {
		flags |= 0x02
	}

	buf := make([]byte, 0, len(entry.Wire)+1)
	buf = append(buf, flags)
	buf = append(buf, entry.Wire...)

	if err := r.client.Set(ctx, key, buf, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
