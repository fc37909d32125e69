// Package dedup tracks recently imported video ids in Redis so the pipeline
// can skip re-fetching metadata it has seen within the suppression window.
// The cache is an optimization layer: the database unique index on
// (provider, external_id) remains the source of truth.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/kasper/vidmeta/internal/logger"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "import:seen:"

// Cache remembers which provider/id pairs were imported recently.
type Cache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log *logger.Logger
}

// New creates a Cache with the given suppression window.
func New(rdb redis.Cmdable, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

func key(provider, externalID string) string {
	return keyPrefix + provider + ":" + externalID
}

// Seen reports whether the pair was marked within the suppression window.
// A store failure reads as "not seen" so an unavailable cache degrades to
// extra provider fetches rather than dropped imports.
func (c *Cache) Seen(ctx context.Context, provider, externalID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key(provider, externalID)).Result()
	if err != nil {
		c.log.WithError(err).Warn("Dedup cache unavailable, treating as unseen")
		return false, fmt.Errorf("dedup cache check failed: %w", err)
	}
	return n > 0, nil
}

// Mark records the pair for the suppression window. Marking an already-marked
// pair refreshes nothing: the original TTL stands.
func (c *Cache) Mark(ctx context.Context, provider, externalID string) error {
	if err := c.rdb.SetNX(ctx, key(provider, externalID), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup cache mark failed: %w", err)
	}
	return nil
}
