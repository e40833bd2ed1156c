package cache

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"orbwatch/internal/model"
	"orbwatch/internal/rates"
)

var (
	rdb *redis.Client
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start redis container: %s", err)
	}
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Fatalf("could not stop redis container: %s", err)
		}
	}()

	host, err := redisContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	rdb = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer rdb.Close()

	code := m.Run()

	os.Exit(code)
}

func sampleSnapshot(market string, ttl time.Duration) rates.Snapshot {
	registry := rates.NewRegistry([]model.Currency{
		{ID: "chaos", Name: "Chaos Orb"},
		{ID: "exalted", Name: "Exalted Orb"},
	})
	m := rates.NewMatrix(registry, model.SnapshotMeta{
		Source: "test", Market: market, CapturedAt: time.Now().UTC().Truncate(time.Second), TTL: ttl,
	})
	if err := m.SetRate("chaos", "exalted", 4.48); err != nil {
		panic(err)
	}
	return m.Snapshot()
}

func TestSnapshotCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(rdb)

	snap := sampleSnapshot("standard", time.Minute)
	require.NoError(t, c.Set(ctx, "standard", snap))

	got, err := c.Get(ctx, "standard")
	require.NoError(t, err)
	assert.Equal(t, snap.Meta, got.Meta)
	assert.Equal(t, snap.Currencies, got.Currencies)
	assert.Equal(t, snap.Rates, got.Rates)

	// Cached snapshot rebuilds into a working matrix.
	m := rates.FromSnapshot(got)
	r, err := m.Rate("exalted", "chaos")
	require.NoError(t, err)
	assert.InDelta(t, 1/4.48, r, 1e-9)
}

func TestSnapshotCache_Miss(t *testing.T) {
	c := NewSnapshotCache(rdb)
	_, err := c.Get(context.Background(), "never-cached")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSnapshotCache_EntryOutlivesSnapshotTTL(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(rdb)

	snap := sampleSnapshot("expiring", time.Second)
	require.NoError(t, c.Set(ctx, "expiring", snap))

	// The Redis expiry must exceed the snapshot TTL so that a stale entry is
	// still readable as a fallback.
	ttl, err := rdb.TTL(ctx, "snapshot:expiring").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Second)
	assert.LessOrEqual(t, ttl, staleGraceFactor*time.Second)
}

func TestSnapshotCache_StaleEntryStillReadable(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(rdb)

	// Captured long enough ago that the snapshot is already stale when
	// written; the cache must serve it anyway.
	snap := sampleSnapshot("already-stale", time.Second)
	snap.Meta.CapturedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, c.Set(ctx, "already-stale", snap))

	got, err := c.Get(ctx, "already-stale")
	require.NoError(t, err)
	assert.True(t, got.Meta.IsStale(time.Now().UTC()))
}

func TestSnapshotCache_OverwriteReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	c := NewSnapshotCache(rdb)

	require.NoError(t, c.Set(ctx, "overwrite", sampleSnapshot("overwrite", time.Minute)))

	updated := sampleSnapshot("overwrite", time.Minute)
	updated.Rates["chaos"]["exalted"] = 5.0
	require.NoError(t, c.Set(ctx, "overwrite", updated))

	got, err := c.Get(ctx, "overwrite")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Rates["chaos"]["exalted"])
}
