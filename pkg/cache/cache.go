// Package cache provides the key/value port used for idempotency bookkeeping and
// its Redis, Firestore and in-memory implementations.
package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrCacheUnavailable is wrapped by every implementation when the backend cannot be
// reached, including after the bounded reconnect attempts have been exhausted.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Cache is the minimal key/value contract the pipeline depends on.
type Cache interface {
	// Get returns the value stored for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A zero ttl stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	io.Closer
}

// Marker is the sentinel value written for idempotency keys; only presence matters.
const Marker = "1"
