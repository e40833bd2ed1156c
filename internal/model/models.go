package model

import "time"

// Currency is a tradeable unit identified by a stable lowercase id.
type Currency struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SnapshotMeta describes the provenance and freshness of a rate snapshot.
type SnapshotMeta struct {
	Source     string        `json:"source"`
	Market     string        `json:"market"`
	CapturedAt time.Time     `json:"captured_at"`
	TTL        time.Duration `json:"ttl"`
}

// IsStale reports whether the snapshot has outlived its TTL at the given time.
func (m SnapshotMeta) IsStale(now time.Time) bool {
	return now.After(m.CapturedAt.Add(m.TTL))
}

// Step represents one conversion in an arbitrage path. Rate is the effective
// rate after slippage has been applied.
type Step struct {
	From         string  `json:"from_currency"`
	To           string  `json:"to_currency"`
	Rate         float64 `json:"rate"`
	AmountBefore float64 `json:"amount_before"`
	AmountAfter  float64 `json:"amount_after"`
}

// Opportunity is a closed sequence of trades that starts and ends at the same
// currency. Steps are in execution order.
type Opportunity struct {
	ID            string  `json:"id"`
	StartCurrency string  `json:"starting_currency"`
	StartAmount   float64 `json:"starting_amount"`
	FinalAmount   float64 `json:"final_amount"`
	ProfitAmount  float64 `json:"profit_amount"`
	ProfitPct     float64 `json:"profit_percentage"`
	Steps         []Step  `json:"steps"`
}

// Summary aggregates a list of opportunities. All fields are zero-valued for
// an empty list.
type Summary struct {
	TotalOpportunities int     `json:"total_opportunities"`
	BestProfitPct      float64 `json:"best_profit_percentage"`
	AverageProfitPct   float64 `json:"average_profit_percentage"`
	WorstProfitPct     float64 `json:"worst_profit_percentage"`
	TotalProfitAmount  float64 `json:"total_profit_amount"`
}

// SnapshotRecord is one fetched snapshot to be logged for history.
type SnapshotRecord struct {
	ID            int64     `db:"id"`
	Source        string    `db:"source"`
	Market        string    `db:"market"`
	CapturedAt    time.Time `db:"captured_at"`
	PairCount     int       `db:"pair_count"`
	CurrencyCount int       `db:"currency_count"`
}

// OpportunityRecord is a profitable cycle found by a scheduled scan, logged
// for later inspection and served on the recent-opportunities endpoint.
type OpportunityRecord struct {
	ID            string    `db:"id" json:"id"`
	Market        string    `db:"market" json:"market"`
	StartCurrency string    `db:"start_currency" json:"starting_currency"`
	StartAmount   float64   `db:"start_amount" json:"starting_amount"`
	FinalAmount   float64   `db:"final_amount" json:"final_amount"`
	ProfitPct     float64   `db:"profit_pct" json:"profit_percentage"`
	Path          string    `db:"path" json:"path"`
	FoundAt       time.Time `db:"found_at" json:"found_at"`
}
