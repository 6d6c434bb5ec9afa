// Package cache provides the distributed sandbox-id cache shared across
// process replicas. Entries are advisory hints: the remote sandbox's
// actual existence is authoritative, so every operation here degrades
// gracefully instead of failing the caller.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Store is the key-value contract the lifecycle manager depends on.
// Implementations must treat unavailability as a miss, never as a fatal
// condition.
type Store interface {
	// Get returns the value for key, or "" when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	Close() error
}

// Key builds the cache key for a tenant: sandbox:{user}:{project}.
func Key(userID, projectID string) string {
	return fmt.Sprintf("sandbox:%s:%s", userID, projectID)
}

// Disabled is the no-op store used when caching is turned off. Every
// read misses, so the manager always falls through to creation.
type Disabled struct{}

func (Disabled) Get(context.Context, string) (string, error) { return "", nil }

func (Disabled) Set(context.Context, string, string, time.Duration) error { return nil }

func (Disabled) Delete(context.Context, string) error { return nil }

func (Disabled) Ping(context.Context) error { return nil }

func (Disabled) Close() error { return nil }
