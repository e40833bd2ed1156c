package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"orbwatch/internal/rates"
)

// ErrCacheMiss is returned when no snapshot is cached for a market.
var ErrCacheMiss = errors.New("snapshot not cached")

// Cache stores completed rate snapshots keyed by market id. Entries expire
// with the snapshot's TTL; callers still check staleness before reuse since
// an entry may be read just before expiry.
type Cache interface {
	Set(ctx context.Context, market string, snap rates.Snapshot) error
	Get(ctx context.Context, market string) (rates.Snapshot, error)
}

// SnapshotCache implements Cache on Redis with JSON-serialized snapshots.
//
// Key schema:
//
//	snapshot:{market} - string value containing the snapshot JSON
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given client.
func NewSnapshotCache(rdb *redis.Client) *SnapshotCache {
	return &SnapshotCache{rdb: rdb}
}

func snapshotKey(market string) string { return "snapshot:" + market }

// staleGraceFactor multiplies the snapshot TTL into the Redis expiry. The
// entry must outlive its own staleness so that a failed refresh can still
// fall back to the stale copy; staleness itself is judged by IsStale, not by
// key expiry.
const staleGraceFactor = 4

// Set stores a snapshot. The Redis expiry is a multiple of the snapshot's
// TTL; see staleGraceFactor.
func (c *SnapshotCache) Set(ctx context.Context, market string, snap rates.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot %s: %w", market, err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(market), data, staleGraceFactor*snap.Meta.TTL).Err(); err != nil {
		return fmt.Errorf("cache: set snapshot %s: %w", market, err)
	}
	return nil
}

// Get retrieves a market's snapshot. It returns ErrCacheMiss when the key
// does not exist.
func (c *SnapshotCache) Get(ctx context.Context, market string) (rates.Snapshot, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(market)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rates.Snapshot{}, ErrCacheMiss
		}
		return rates.Snapshot{}, fmt.Errorf("cache: get snapshot %s: %w", market, err)
	}
	var snap rates.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return rates.Snapshot{}, fmt.Errorf("cache: unmarshal snapshot %s: %w", market, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ Cache = (*SnapshotCache)(nil)
