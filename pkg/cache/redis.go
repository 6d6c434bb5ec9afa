package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// retryPause is the wait before the single retry on a
	// connection-class failure.
	retryPause = 100 * time.Millisecond

	dialTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

// Redis is the production Store. The go-redis client pools connections
// and is safe for concurrent use; every call here runs on the caller's
// goroutine with its own deadline so a slow cache cannot stall tenants
// that never touch it.
type Redis struct {
	rdb *redis.Client
}

// NewRedis parses a redis:// URL and returns a connected store. The
// connection is verified once so misconfiguration surfaces at startup,
// but callers are expected to keep running if the cache dies later.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	opts.PoolSize = 10

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb}, nil
}

// Get returns "" on a miss. Connection failures get one retry; after
// that the error is logged and reported so the manager can degrade to a
// miss.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		val, err := r.rdb.Get(ctx, key).Result()
		if err == nil {
			return val, nil
		}
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		lastErr = err
		if attempt == 0 && retryable(err) {
			sleepCtx(ctx, retryPause)
			continue
		}
		break
	}
	log.Warn().Err(lastErr).Str("key", key).Msg("Cache get failed")
	return "", lastErr
}

// Set stores the value with a TTL, retrying once on connection failures.
func (r *Redis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			lastErr = err
			if attempt == 0 && retryable(err) {
				sleepCtx(ctx, retryPause)
				continue
			}
			break
		}
		return nil
	}
	log.Warn().Err(lastErr).Str("key", key).Msg("Cache set failed")
	return lastErr
}

// Delete removes the key, retrying once on connection failures.
func (r *Redis) Delete(ctx context.Context, key string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := r.rdb.Del(ctx, key).Err(); err != nil {
			lastErr = err
			if attempt == 0 && retryable(err) {
				sleepCtx(ctx, retryPause)
				continue
			}
			break
		}
		return nil
	}
	log.Warn().Err(lastErr).Str("key", key).Msg("Cache delete failed")
	return lastErr
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// retryable reports whether the error looks like a transient transport
// problem rather than a command error.
func retryable(err error) bool {
	if errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
