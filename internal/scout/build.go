package scout

import (
	"log/slog"

	"orbwatch/internal/model"
	"orbwatch/internal/rates"
)

// BuildMatrix assembles a completed rate matrix from one fetched catalog.
// Observed pairs that fail to set (which only happens on malformed catalogs)
// are skipped with a warning rather than aborting the snapshot.
func BuildMatrix(cat Catalog, meta model.SnapshotMeta, logger *slog.Logger) *rates.Matrix {
	registry := rates.NewRegistry(cat.Currencies)
	m := rates.NewMatrix(registry, meta)
	for _, p := range cat.Pairs {
		if err := m.SetRate(p.From, p.To, p.Rate); err != nil {
			logger.Warn("skipping observed pair", "from", p.From, "to", p.To, "error", err)
		}
	}
	m.Complete()
	return m
}
