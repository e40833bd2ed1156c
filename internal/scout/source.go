package scout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"orbwatch/internal/config"
	"orbwatch/internal/model"
)

// ErrInsufficientData is returned when a fetch yields too few trading pairs
// to build a usable snapshot.
var ErrInsufficientData = errors.New("insufficient trading pairs")

// minPairs is the smallest number of directly observed pairs that makes a
// snapshot worth building.
const minPairs = 3

// Pair is one directly observed trading pair with canonical currency ids.
type Pair struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Rate   float64 `json:"rate"`
	Volume float64 `json:"volume"`
}

// Catalog is the normalized result of one fetch: the discovered currencies
// in discovery order and the directly observed rates between them.
type Catalog struct {
	Currencies []model.Currency
	Pairs      []Pair
}

// Source supplies directly observed exchange rates for a market.
type Source interface {
	Name() string
	Fetch(ctx context.Context, market string) (Catalog, error)
}

// NewSource creates a rate source based on the given name and configuration.
func NewSource(name string, logger *slog.Logger, cfg config.ScoutConfig) (Source, error) {
	switch name {
	case "poe2scout":
		return NewClient(logger, cfg), nil
	case "static":
		return NewStaticSource(logger), nil
	default:
		return nil, fmt.Errorf("unknown rate source: %s", name)
	}
}

// StaticSource serves a fixed set of market rates. It exists for local
// development and demos where the live market site is unreachable.
type StaticSource struct {
	logger *slog.Logger
}

// NewStaticSource creates a StaticSource.
func NewStaticSource(logger *slog.Logger) *StaticSource {
	return &StaticSource{logger: logger}
}

func (s *StaticSource) Name() string {
	return "static"
}

// Fetch returns the fixture catalog regardless of market.
func (s *StaticSource) Fetch(ctx context.Context, market string) (Catalog, error) {
	raw := []RawPair{
		{FromName: "Divine Orb", ToName: "Exalted Orb", Rate: 139.48, Volume: 9100},
		{FromName: "Divine Orb", ToName: "Chaos Orb", Rate: 29.82, Volume: 4400},
		{FromName: "Chaos Orb", ToName: "Exalted Orb", Rate: 4.48, Volume: 7800},
		{FromName: "Mirror of Kalandra", ToName: "Divine Orb", Rate: 613.20, Volume: 120},
		{FromName: "Perfect Exalted Orb", ToName: "Exalted Orb", Rate: 298.82, Volume: 640},
		{FromName: "Orb of Annulment", ToName: "Exalted Orb", Rate: 38.12, Volume: 1900},
		{FromName: "Orb of Chance", ToName: "Exalted Orb", Rate: 9.67, Volume: 2300},
		{FromName: "Fracturing Orb", ToName: "Exalted Orb", Rate: 48.47, Volume: 830},
		{FromName: "Greater Exalted Orb", ToName: "Exalted Orb", Rate: 3.61, Volume: 3100},
		{FromName: "Omen of Light", ToName: "Divine Orb", Rate: 2.39, Volume: 410},
		{FromName: "Omen of Whittling", ToName: "Exalted Orb", Rate: 154.76, Volume: 280},
		{FromName: "Hinekora's Lock", ToName: "Divine Orb", Rate: 78.16, Volume: 95},
	}
	return Normalize(raw, s.logger)
}

// RawPair is a trading pair as reported by a market data source, before name
// normalization.
type RawPair struct {
	FromName string  `json:"from"`
	ToName   string  `json:"to"`
	Rate     float64 `json:"rate"`
	Volume   float64 `json:"volume"`
}

// Normalize maps raw display names to canonical ids and assembles a Catalog.
// When two distinct raw names normalize to the same id, the first-seen raw
// name keeps the id and pairs mentioning the later name are dropped.
// It fails with ErrInsufficientData when fewer than three usable pairs
// survive.
func Normalize(raw []RawPair, logger *slog.Logger) (Catalog, error) {
	var cat Catalog
	seenRaw := make(map[string]string) // id -> first raw name claiming it

	resolve := func(rawName string) (string, bool) {
		id := CanonicalID(rawName)
		if id == "" {
			return "", false
		}
		if first, ok := seenRaw[id]; ok {
			if first != rawName {
				logger.Warn("currency name collision, keeping first seen",
					"id", id, "kept", first, "dropped", rawName)
				return "", false
			}
			return id, true
		}
		seenRaw[id] = rawName
		cat.Currencies = append(cat.Currencies, model.Currency{ID: id, Name: DisplayName(id)})
		return id, true
	}

	for _, rp := range raw {
		if rp.Rate <= 0 {
			logger.Warn("skipping non-positive observed rate",
				"from", rp.FromName, "to", rp.ToName, "rate", rp.Rate)
			continue
		}
		from, ok := resolve(rp.FromName)
		if !ok {
			continue
		}
		to, ok := resolve(rp.ToName)
		if !ok || from == to {
			continue
		}
		cat.Pairs = append(cat.Pairs, Pair{From: from, To: to, Rate: rp.Rate, Volume: rp.Volume})
	}

	if len(cat.Pairs) < minPairs {
		return Catalog{}, fmt.Errorf("%w: got %d, need at least %d", ErrInsufficientData, len(cat.Pairs), minPairs)
	}
	return cat, nil
}
