package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed cache.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreEntry is the document shape for one cache key.
type firestoreEntry struct {
	Value     string    `firestore:"value"`
	ExpiresAt time.Time `firestore:"expires_at,omitempty"`
}

// FirestoreCache stores idempotency markers as documents in one collection.
// Expired documents read as absent; a Firestore TTL policy on expires_at can be
// configured to reclaim them.
//
// Use it for low volume deployments only. That's what redis is for.
type FirestoreCache struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
	now            func() time.Time
}

// NewFirestoreCache wraps an existing client. The client's lifecycle stays with the caller.
func NewFirestoreCache(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreCache, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, errors.New("firestore collection name is required")
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreCache initialized.")

	return &FirestoreCache{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreCache").Logger(),
		now:            time.Now,
	}, nil
}

// Get returns the stored value for key unless it is missing or expired.
func (c *FirestoreCache) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := c.client.Collection(c.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return "", false, wrapFirestoreErr("get", key, err)
	}

	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return "", false, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	if !entry.ExpiresAt.IsZero() && !c.now().Before(entry.ExpiresAt) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Set writes the document for key, overwriting any previous value.
func (c *FirestoreCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := firestoreEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = c.now().Add(ttl)
	}
	if _, err := c.client.Collection(c.collectionName).Doc(key).Set(ctx, entry); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return wrapFirestoreErr("set", key, err)
	}
	c.logger.Debug().Str("key", key).Msg("Stored marker in Firestore.")
	return nil
}

// Exists reports whether an unexpired document exists for key.
func (c *FirestoreCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (c *FirestoreCache) Close() error {
	return nil
}

func wrapFirestoreErr(op, key string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: firestore %s %s: %v", ErrCacheUnavailable, op, key, err)
	default:
		return fmt.Errorf("firestore %s %s: %w", op, key, err)
	}
}
