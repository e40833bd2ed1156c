package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"orbwatch/internal/arbitrage"
	"orbwatch/internal/cache"
	"orbwatch/internal/database"
	"orbwatch/internal/model"
	"orbwatch/internal/rates"
	"orbwatch/internal/scout"
)

// ErrUnknownMarket is returned when a snapshot is requested for a market the
// poller is not tracking.
var ErrUnknownMarket = errors.New("unknown market")

// Broadcaster pushes refresh events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Config holds the poller settings.
type Config struct {
	Market          string
	Interval        time.Duration
	TTL             time.Duration
	WatchCurrencies []string
	ScanAmount      float64
}

// Poller periodically refreshes the rate snapshot for one market, caches it,
// records it, scans it for arbitrage opportunities, and announces the
// refresh. It also serves snapshots to the API layer, fetching synchronously
// when the cache has nothing usable.
type Poller struct {
	logger *slog.Logger
	source scout.Source
	cache  cache.Cache
	repo   database.Repository
	finder *arbitrage.Finder
	hub    Broadcaster
	cfg    Config

	refreshCh chan struct{}

	// mu serializes synchronous refreshes triggered by cache misses so that
	// concurrent API requests do not stampede the market site.
	mu sync.Mutex
}

// New creates a Poller.
func New(logger *slog.Logger, source scout.Source, c cache.Cache, repo database.Repository,
	finder *arbitrage.Finder, hub Broadcaster, cfg Config) *Poller {
	return &Poller{
		logger:    logger.With(slog.String("component", "poller"), slog.String("market", cfg.Market)),
		source:    source,
		cache:     c,
		repo:      repo,
		finder:    finder,
		hub:       hub,
		cfg:       cfg,
		refreshCh: make(chan struct{}, 1),
	}
}

// Run refreshes once on startup and then on every tick and on every trigger
// until the context is cancelled. A failed refresh keeps the previous
// snapshot; the next tick retries.
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.Refresh(ctx); err != nil {
		p.logger.Error("initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller shutting down")
			return ctx.Err()
		case <-ticker.C:
		case <-p.refreshCh:
		}
		if _, err := p.Refresh(ctx); err != nil {
			p.logger.Error("refresh failed", "error", err)
		}
	}
}

// TriggerRefresh requests an asynchronous refresh. It never blocks; when a
// trigger is already pending the call is a no-op.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh performs one full refresh pass: fetch, build, complete, cache,
// record, scan, announce. It returns the completed matrix.
func (p *Poller) Refresh(ctx context.Context) (*rates.Matrix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refresh(ctx)
}

func (p *Poller) refresh(ctx context.Context) (*rates.Matrix, error) {
	cat, err := p.source.Fetch(ctx, p.cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", p.cfg.Market, err)
	}

	meta := model.SnapshotMeta{
		Source:     p.source.Name(),
		Market:     p.cfg.Market,
		CapturedAt: time.Now().UTC(),
		TTL:        p.cfg.TTL,
	}
	matrix := scout.BuildMatrix(cat, meta, p.logger)

	if err := p.cache.Set(ctx, p.cfg.Market, matrix.Snapshot()); err != nil {
		p.logger.Error("failed to cache snapshot", "error", err)
	}
	if err := p.repo.LogSnapshot(ctx, model.SnapshotRecord{
		Source:        meta.Source,
		Market:        meta.Market,
		CapturedAt:    meta.CapturedAt,
		PairCount:     len(cat.Pairs),
		CurrencyCount: len(cat.Currencies),
	}); err != nil {
		p.logger.Error("failed to log snapshot", "error", err)
	}

	p.logger.Info("snapshot refreshed",
		"currencies", len(cat.Currencies), "pairs", len(cat.Pairs))

	p.scan(ctx, matrix)
	p.announce(meta, len(cat.Pairs))
	return matrix, nil
}

// scan runs the configured arbitrage policy for every watch currency and
// persists the profitable cycles it finds.
func (p *Poller) scan(ctx context.Context, matrix *rates.Matrix) {
	for _, start := range p.cfg.WatchCurrencies {
		ops, err := p.finder.FindOpportunities(matrix, start, p.cfg.ScanAmount)
		if err != nil {
			p.logger.Warn("scan skipped", "start", start, "error", err)
			continue
		}
		for _, op := range ops {
			p.logger.Info("profitable cycle found",
				"start", op.StartCurrency,
				"profit_pct", op.ProfitPct,
				"path", pathString(op),
			)
			rec := model.OpportunityRecord{
				ID:            op.ID,
				Market:        p.cfg.Market,
				StartCurrency: op.StartCurrency,
				StartAmount:   op.StartAmount,
				FinalAmount:   op.FinalAmount,
				ProfitPct:     op.ProfitPct,
				Path:          pathString(op),
				FoundAt:       time.Now().UTC(),
			}
			if err := p.repo.LogOpportunity(ctx, rec); err != nil {
				p.logger.Error("failed to log opportunity", "error", err)
			}
		}
	}
}

// announce broadcasts a refresh event to websocket clients.
func (p *Poller) announce(meta model.SnapshotMeta, pairCount int) {
	if p.hub == nil {
		return
	}
	msg, err := json.Marshal(map[string]any{
		"type":        "snapshot_refreshed",
		"market":      meta.Market,
		"source":      meta.Source,
		"captured_at": meta.CapturedAt,
		"pair_count":  pairCount,
	})
	if err != nil {
		return
	}
	p.hub.Broadcast(msg)
}

// Snapshot returns the current snapshot for the market, fetching
// synchronously when the cache holds nothing usable.
func (p *Poller) Snapshot(ctx context.Context, market string) (rates.Snapshot, error) {
	if market != p.cfg.Market {
		return rates.Snapshot{}, fmt.Errorf("market %q: %w", market, ErrUnknownMarket)
	}

	snap, err := p.cache.Get(ctx, market)
	if err == nil && !snap.Meta.IsStale(time.Now().UTC()) {
		return snap, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		p.logger.Warn("snapshot cache read failed", "error", err)
	}

	matrix, err := p.Refresh(ctx)
	if err != nil {
		// A stale snapshot beats no snapshot when the market site is down.
		if stale, cerr := p.cache.Get(ctx, market); cerr == nil {
			p.logger.Warn("serving stale snapshot, refresh failed", "error", err)
			return stale, nil
		}
		return rates.Snapshot{}, err
	}
	return matrix.Snapshot(), nil
}

// pathString renders an opportunity's cycle as "a -> b -> c -> a".
func pathString(op model.Opportunity) string {
	if len(op.Steps) == 0 {
		return op.StartCurrency
	}
	parts := make([]string, 0, len(op.Steps)+1)
	parts = append(parts, op.Steps[0].From)
	for _, s := range op.Steps {
		parts = append(parts, s.To)
	}
	return strings.Join(parts, " -> ")
}
