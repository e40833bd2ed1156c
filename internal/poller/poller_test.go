package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"orbwatch/internal/arbitrage"
	"orbwatch/internal/cache"
	"orbwatch/internal/model"
	"orbwatch/internal/rates"
	"orbwatch/internal/scout"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) LogSnapshot(ctx context.Context, rec model.SnapshotRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRepository) LogOpportunity(ctx context.Context, rec model.OpportunityRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRepository) RecentOpportunities(ctx context.Context, market string, limit int) ([]model.OpportunityRecord, error) {
	args := m.Called(ctx, market, limit)
	if recs, ok := args.Get(0).([]model.OpportunityRecord); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeSource serves a canned catalog or a canned error.
type fakeSource struct {
	mu      sync.Mutex
	catalog scout.Catalog
	err     error
	fetches int
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Fetch(ctx context.Context, market string) (scout.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return scout.Catalog{}, s.err
	}
	return s.catalog, nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// memoryCache is an in-process Cache for tests.
type memoryCache struct {
	mu    sync.Mutex
	snaps map[string]rates.Snapshot
}

func newMemoryCache() *memoryCache {
	return &memoryCache{snaps: make(map[string]rates.Snapshot)}
}

func (c *memoryCache) Set(ctx context.Context, market string, snap rates.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[market] = snap
	return nil
}

func (c *memoryCache) Get(ctx context.Context, market string) (rates.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[market]
	if !ok {
		return rates.Snapshot{}, cache.ErrCacheMiss
	}
	return snap, nil
}

// recordingHub captures broadcast payloads.
type recordingHub struct {
	mu       sync.Mutex
	messages [][]byte
}

func (h *recordingHub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
}

func (h *recordingHub) all() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messages
}

func profitableCatalog() scout.Catalog {
	return scout.Catalog{
		Currencies: []model.Currency{
			{ID: "chaos", Name: "Chaos Orb"},
			{ID: "exalted", Name: "Exalted Orb"},
			{ID: "divine", Name: "Divine Orb"},
		},
		Pairs: []scout.Pair{
			{From: "chaos", To: "exalted", Rate: 4.0},
			{From: "exalted", To: "divine", Rate: 0.1},
			{From: "divine", To: "chaos", Rate: 3.0},
		},
	}
}

func testPoller(t *testing.T, source scout.Source, c cache.Cache, repo *MockRepository, hub Broadcaster) *Poller {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	finder, err := arbitrage.NewFinder(arbitrage.Policy{
		MinProfitPct: 0.01, Hops: 2, SlippagePerStep: 0, MaxResults: 10,
	}, logger)
	require.NoError(t, err)

	return New(logger, source, c, repo, finder, hub, Config{
		Market:          "standard",
		Interval:        time.Minute,
		TTL:             time.Minute,
		WatchCurrencies: []string{"chaos"},
		ScanAmount:      100,
	})
}

func TestPoller_Refresh(t *testing.T) {
	source := &fakeSource{catalog: profitableCatalog()}
	c := newMemoryCache()
	repo := new(MockRepository)
	hub := &recordingHub{}

	repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("LogOpportunity", mock.Anything, mock.MatchedBy(func(rec model.OpportunityRecord) bool {
		return rec.Market == "standard" &&
			rec.StartCurrency == "chaos" &&
			rec.Path == "chaos -> exalted -> divine -> chaos"
	})).Return(nil).Once()

	p := testPoller(t, source, c, repo, hub)
	matrix, err := p.Refresh(context.Background())
	require.NoError(t, err)
	repo.AssertExpectations(t)

	r, err := matrix.Rate("chaos", "exalted")
	require.NoError(t, err)
	assert.Equal(t, 4.0, r)

	// Snapshot landed in the cache.
	snap, err := c.Get(context.Background(), "standard")
	require.NoError(t, err)
	assert.Equal(t, "standard", snap.Meta.Market)
	assert.Len(t, snap.Currencies, 3)

	// Refresh event went out to the hub.
	msgs := hub.all()
	require.Len(t, msgs, 1)
	var event map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, "snapshot_refreshed", event["type"])
	assert.Equal(t, "standard", event["market"])
	assert.Equal(t, float64(3), event["pair_count"])
}

func TestPoller_Refresh_ScansCatalogBuiltFromRawNames(t *testing.T) {
	// The watch list names short ids; a catalog normalized from raw market
	// display names must still be scannable under them.
	raw := []scout.RawPair{
		{FromName: "Chaos Orb", ToName: "Exalted Orb", Rate: 4.0},
		{FromName: "Exalted Orb", ToName: "Divine Orb", Rate: 0.1},
		{FromName: "Divine Orb", ToName: "Chaos Orb", Rate: 3.0},
	}
	cat, err := scout.Normalize(raw, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	source := &fakeSource{catalog: cat}
	repo := new(MockRepository)
	repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("LogOpportunity", mock.Anything, mock.MatchedBy(func(rec model.OpportunityRecord) bool {
		return rec.StartCurrency == "chaos"
	})).Return(nil).Once()

	p := testPoller(t, source, newMemoryCache(), repo, &recordingHub{})
	_, err = p.Refresh(context.Background())
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestPoller_Refresh_StorageFailuresAreNotFatal(t *testing.T) {
	source := &fakeSource{catalog: profitableCatalog()}
	repo := new(MockRepository)
	repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(errors.New("db down"))
	repo.On("LogOpportunity", mock.Anything, mock.Anything).Return(errors.New("db down"))

	p := testPoller(t, source, newMemoryCache(), repo, &recordingHub{})
	_, err := p.Refresh(context.Background())
	assert.NoError(t, err)
}

func TestPoller_Refresh_FetchFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("market site unreachable")}
	repo := new(MockRepository)

	p := testPoller(t, source, newMemoryCache(), repo, &recordingHub{})
	_, err := p.Refresh(context.Background())
	require.Error(t, err)
	repo.AssertNotCalled(t, "LogSnapshot")
}

func TestPoller_Snapshot(t *testing.T) {
	t.Run("unknown market", func(t *testing.T) {
		p := testPoller(t, &fakeSource{catalog: profitableCatalog()}, newMemoryCache(), new(MockRepository), nil)
		_, err := p.Snapshot(context.Background(), "hardcore")
		assert.ErrorIs(t, err, ErrUnknownMarket)
	})

	t.Run("cache hit skips fetch", func(t *testing.T) {
		source := &fakeSource{catalog: profitableCatalog()}
		c := newMemoryCache()
		repo := new(MockRepository)
		repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(nil)
		repo.On("LogOpportunity", mock.Anything, mock.Anything).Return(nil)

		p := testPoller(t, source, c, repo, nil)
		_, err := p.Refresh(context.Background())
		require.NoError(t, err)
		fetched := source.fetchCount()

		snap, err := p.Snapshot(context.Background(), "standard")
		require.NoError(t, err)
		assert.Equal(t, "standard", snap.Meta.Market)
		assert.Equal(t, fetched, source.fetchCount())
	})

	t.Run("cache miss fetches synchronously", func(t *testing.T) {
		source := &fakeSource{catalog: profitableCatalog()}
		repo := new(MockRepository)
		repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(nil)
		repo.On("LogOpportunity", mock.Anything, mock.Anything).Return(nil)

		p := testPoller(t, source, newMemoryCache(), repo, nil)
		snap, err := p.Snapshot(context.Background(), "standard")
		require.NoError(t, err)
		assert.Equal(t, 1, source.fetchCount())
		assert.Len(t, snap.Currencies, 3)
	})

	t.Run("stale cache served when refresh fails", func(t *testing.T) {
		source := &fakeSource{catalog: profitableCatalog()}
		c := newMemoryCache()
		repo := new(MockRepository)
		repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(nil)
		repo.On("LogOpportunity", mock.Anything, mock.Anything).Return(nil)

		p := testPoller(t, source, c, repo, nil)
		_, err := p.Refresh(context.Background())
		require.NoError(t, err)

		// Age the cached snapshot past its TTL and break the source.
		snap, err := c.Get(context.Background(), "standard")
		require.NoError(t, err)
		snap.Meta.CapturedAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, c.Set(context.Background(), "standard", snap))
		source.mu.Lock()
		source.err = errors.New("market site unreachable")
		source.mu.Unlock()

		got, err := p.Snapshot(context.Background(), "standard")
		require.NoError(t, err)
		assert.True(t, got.Meta.IsStale(time.Now().UTC()))
	})

	t.Run("refresh failure with empty cache propagates", func(t *testing.T) {
		source := &fakeSource{err: errors.New("market site unreachable")}
		p := testPoller(t, source, newMemoryCache(), new(MockRepository), nil)
		_, err := p.Snapshot(context.Background(), "standard")
		assert.Error(t, err)
	})
}

func TestPoller_TriggerRefresh_NeverBlocks(t *testing.T) {
	p := testPoller(t, &fakeSource{catalog: profitableCatalog()}, newMemoryCache(), new(MockRepository), nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.TriggerRefresh()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TriggerRefresh blocked")
	}
}

func TestPoller_Run_RefreshesOnTrigger(t *testing.T) {
	source := &fakeSource{catalog: profitableCatalog()}
	repo := new(MockRepository)
	repo.On("LogSnapshot", mock.Anything, mock.Anything).Return(nil)
	repo.On("LogOpportunity", mock.Anything, mock.Anything).Return(nil)

	p := testPoller(t, source, newMemoryCache(), repo, &recordingHub{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return source.fetchCount() >= 1 }, time.Second, 10*time.Millisecond)

	p.TriggerRefresh()
	require.Eventually(t, func() bool { return source.fetchCount() >= 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poller did not shut down")
	}
}

func TestPathString(t *testing.T) {
	op := model.Opportunity{
		StartCurrency: "chaos",
		Steps: []model.Step{
			{From: "chaos", To: "exalted"},
			{From: "exalted", To: "divine"},
			{From: "divine", To: "chaos"},
		},
	}
	assert.Equal(t, "chaos -> exalted -> divine -> chaos", pathString(op))
	assert.Equal(t, "chaos", pathString(model.Opportunity{StartCurrency: "chaos"}))
}
