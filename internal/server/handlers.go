package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"orbwatch/internal/arbitrage"
	"orbwatch/internal/database"
	"orbwatch/internal/poller"
	"orbwatch/internal/rates"
)

// maxResultsCap bounds the max_results query parameter.
const maxResultsCap = 50

// SnapshotProvider serves rate snapshots and accepts refresh triggers. The
// poller implements it.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, market string) (rates.Snapshot, error)
	TriggerRefresh()
}

// Handlers holds the HTTP handlers for the dashboard API.
type Handlers struct {
	provider      SnapshotProvider
	repo          database.Repository
	defaultPolicy arbitrage.Policy
	defaultStart  string
	logger        *slog.Logger
}

// NewHandlers creates the API handlers. defaultPolicy supplies the arbitrage
// parameters used when a request does not override them.
func NewHandlers(provider SnapshotProvider, repo database.Repository,
	defaultPolicy arbitrage.Policy, defaultStart string, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider:      provider,
		repo:          repo,
		defaultPolicy: defaultPolicy,
		defaultStart:  defaultStart,
		logger:        logger.With(slog.String("component", "api")),
	}
}

// Health responds to liveness probes.
// GET /api/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// metaResponse is the staleness metadata attached to every data response.
type metaResponse struct {
	Source     string    `json:"source"`
	Market     string    `json:"market"`
	CapturedAt time.Time `json:"captured_at"`
	TTLSeconds int       `json:"ttl_seconds"`
	IsStale    bool      `json:"is_stale"`
}

func toMetaResponse(s rates.Snapshot) metaResponse {
	return metaResponse{
		Source:     s.Meta.Source,
		Market:     s.Meta.Market,
		CapturedAt: s.Meta.CapturedAt,
		TTLSeconds: int(s.Meta.TTL.Seconds()),
		IsStale:    s.Meta.IsStale(time.Now().UTC()),
	}
}

// snapshot resolves the market path parameter into a snapshot, writing the
// error response itself when that fails.
func (h *Handlers) snapshot(w http.ResponseWriter, r *http.Request) (rates.Snapshot, bool) {
	market := r.PathValue("market")
	snap, err := h.provider.Snapshot(r.Context(), market)
	if err != nil {
		if errors.Is(err, poller.ErrUnknownMarket) {
			writeError(w, http.StatusNotFound, "unknown market: "+market)
		} else {
			h.logger.Error("snapshot unavailable", "market", market, "error", err)
			writeError(w, http.StatusBadGateway, "rate data unavailable")
		}
		return rates.Snapshot{}, false
	}
	return snap, true
}

// GetRates serves the full rate matrix for a market.
// GET /api/rates/{market}
func (h *Handlers) GetRates(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	names := make(map[string]string, len(snap.Currencies))
	for _, c := range snap.Currencies {
		names[c.ID] = c.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata":       toMetaResponse(snap),
		"currencies":     snap.Currencies,
		"currency_names": names,
		"rates":          snap.Rates,
	})
}

// GetPrices serves a price table relative to a base currency.
// GET /api/prices/{market}?base=exalted
func (h *Handlers) GetPrices(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	base := queryString(r, "base", "exalted")

	matrix := rates.FromSnapshot(snap)
	table, err := matrix.PriceTable(base)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	baseName, _ := matrix.Registry().Name(base)
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata":           toMetaResponse(snap),
		"base_currency":      base,
		"base_currency_name": baseName,
		"prices":             table,
	})
}

// GetArbitrage runs an arbitrage search over the market's current snapshot.
// GET /api/arbitrage/{market}?start=chaos&amount=100&min_profit=0.01&slippage=0&max_results=10
func (h *Handlers) GetArbitrage(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	start := queryString(r, "start", h.defaultStart)
	amount, ok := queryFloat(r, "amount", 100.0)
	if !ok || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	policy := h.defaultPolicy
	var okMin, okSlip, okMax, okHops bool
	policy.MinProfitPct, okMin = queryFloat(r, "min_profit", policy.MinProfitPct)
	policy.SlippagePerStep, okSlip = queryFloat(r, "slippage", policy.SlippagePerStep)
	policy.MaxResults, okMax = queryInt(r, "max_results", policy.MaxResults)
	policy.Hops, okHops = queryInt(r, "hops", policy.Hops)
	if !okMin || !okSlip || !okMax || !okHops {
		writeError(w, http.StatusBadRequest, "malformed search parameter")
		return
	}
	if policy.MaxResults > maxResultsCap {
		policy.MaxResults = maxResultsCap
	}

	finder, err := arbitrage.NewFinder(policy, h.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ops, err := finder.FindOpportunities(rates.FromSnapshot(snap), start, amount)
	if err != nil {
		if errors.Is(err, rates.ErrUnknownCurrency) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("arbitrage search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metadata":          toMetaResponse(snap),
		"starting_currency": start,
		"starting_amount":   amount,
		"parameters": map[string]any{
			"min_profit_percentage": policy.MinProfitPct,
			"hops":                  policy.Hops,
			"slippage_per_step":     policy.SlippagePerStep,
			"max_results":           policy.MaxResults,
		},
		"summary":       arbitrage.Summarize(ops),
		"opportunities": ops,
	})
}

// RecentOpportunities lists the most recently recorded profitable cycles.
// GET /api/arbitrage/{market}/recent?limit=20
func (h *Handlers) RecentOpportunities(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	limit, ok := queryInt(r, "limit", 20)
	if !ok || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxResultsCap {
		limit = maxResultsCap
	}
	recs, err := h.repo.RecentOpportunities(r.Context(), market, limit)
	if err != nil {
		h.logger.Error("failed to list recent opportunities", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market":        market,
		"opportunities": recs,
	})
}

// Refresh triggers an asynchronous snapshot refresh.
// POST /api/refresh/{market}
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	h.provider.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"market":            r.PathValue("market"),
		"refresh_initiated": true,
	})
}
