package rates

import (
	"fmt"
	"sort"

	"orbwatch/internal/model"
)

// Matrix stores pairwise exchange rates over a fixed currency registry.
// A stored rate means "1 unit of from converts to rate units of to"; 0 means
// the rate is unknown. Writing a rate always writes its inverse as well, so
// rate(a,b) * rate(b,a) == 1 holds for every known pair.
//
// The intended lifecycle is: build, set the directly observed rates, call
// Complete once, then treat the matrix as read-only. A completed matrix is
// safe to share across any number of concurrent searches.
type Matrix struct {
	registry *Registry
	meta     model.SnapshotMeta
	table    map[string]map[string]float64
}

// NewMatrix creates a matrix over the registry with identity rates on the
// diagonal and every other pair unknown.
func NewMatrix(registry *Registry, meta model.SnapshotMeta) *Matrix {
	ids := registry.IDs()
	table := make(map[string]map[string]float64, len(ids))
	for _, from := range ids {
		row := make(map[string]float64, len(ids))
		for _, to := range ids {
			if from == to {
				row[to] = 1.0
			}
		}
		table[from] = row
	}
	return &Matrix{registry: registry, meta: meta, table: table}
}

// Registry returns the registry backing this matrix.
func (m *Matrix) Registry() *Registry {
	return m.registry
}

// Meta returns the snapshot metadata.
func (m *Matrix) Meta() model.SnapshotMeta {
	return m.meta
}

// SetRate records that 1 unit of from converts to rate units of to, and
// writes the inverse rate in the same call. The matrix is left unmodified
// when either currency is unknown or the rate is not positive.
func (m *Matrix) SetRate(from, to string, rate float64) error {
	if !m.registry.Has(from) {
		return fmt.Errorf("currency %q: %w", from, ErrUnknownCurrency)
	}
	if !m.registry.Has(to) {
		return fmt.Errorf("currency %q: %w", to, ErrUnknownCurrency)
	}
	if rate <= 0 {
		return fmt.Errorf("rate %f from %q to %q: %w", rate, from, to, ErrInvalidRate)
	}
	m.table[from][to] = rate
	m.table[to][from] = 1.0 / rate
	return nil
}

// Rate returns the rate from one currency to another, or 0 when no rate is
// known. Identity pairs always return 1.
func (m *Matrix) Rate(from, to string) (float64, error) {
	if !m.registry.Has(from) {
		return 0, fmt.Errorf("currency %q: %w", from, ErrUnknownCurrency)
	}
	if !m.registry.Has(to) {
		return 0, fmt.Errorf("currency %q: %w", to, ErrUnknownCurrency)
	}
	return m.table[from][to], nil
}

// Convert converts amount from one currency to another. It fails with
// ErrNoRate when no rate is known for the pair, which is distinct from a
// zero result: known rates are always positive.
func (m *Matrix) Convert(amount float64, from, to string) (float64, error) {
	rate, err := m.Rate(from, to)
	if err != nil {
		return 0, err
	}
	if rate <= 0 {
		return 0, fmt.Errorf("from %q to %q: %w", from, to, ErrNoRate)
	}
	return amount * rate, nil
}

// Complete derives unknown rates through known intermediates: whenever
// rate(a,b) and rate(b,c) are known and rate(a,c) is not, it sets
// rate(a,c) = rate(a,b) * rate(b,c) along with the inverse. One sweep is not
// enough when a derived rate enables another derivation, so sweeps repeat
// until a full pass changes nothing, bounded by the currency count, which is
// sufficient to propagate through any chain.
//
// Iteration follows registration order and the first derived value for a
// pair is kept; later intermediates never overwrite it. With a genuinely
// inconsistent market the derived value therefore depends only on
// registration order, which keeps results deterministic.
func (m *Matrix) Complete() {
	ids := m.registry.IDs()
	for sweep := 0; sweep < len(ids); sweep++ {
		changed := false
		for _, a := range ids {
			for _, b := range ids {
				if a == b || m.table[a][b] <= 0 {
					continue
				}
				for _, c := range ids {
					if c == a || c == b {
						continue
					}
					if m.table[b][c] > 0 && m.table[a][c] == 0 {
						derived := m.table[a][b] * m.table[b][c]
						m.table[a][c] = derived
						m.table[c][a] = 1.0 / derived
						changed = true
					}
				}
			}
		}
		if !changed {
			break
		}
	}
}

// Price is one row of a price table: how many units of the base currency one
// unit of Currency is worth.
type Price struct {
	Currency string  `json:"currency"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
}

// PriceTable returns every other currency priced in base, sorted by price
// descending. Unknown rates appear as 0 at the bottom of the table.
func (m *Matrix) PriceTable(base string) ([]Price, error) {
	if !m.registry.Has(base) {
		return nil, fmt.Errorf("currency %q: %w", base, ErrUnknownCurrency)
	}
	prices := make([]Price, 0, m.registry.Len()-1)
	for _, c := range m.registry.Currencies() {
		if c.ID == base {
			continue
		}
		prices = append(prices, Price{
			Currency: c.ID,
			Name:     c.Name,
			Price:    m.table[c.ID][base],
		})
	}
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].Price > prices[j].Price
	})
	return prices, nil
}

// Snapshot is the serializable form of a matrix: metadata, the registry in
// registration order, and the full rate table.
type Snapshot struct {
	Meta       model.SnapshotMeta            `json:"metadata"`
	Currencies []model.Currency              `json:"currencies"`
	Rates      map[string]map[string]float64 `json:"rates"`
}

// Snapshot returns a deep copy of the matrix state for serialization.
func (m *Matrix) Snapshot() Snapshot {
	rates := make(map[string]map[string]float64, len(m.table))
	for from, row := range m.table {
		out := make(map[string]float64, len(row))
		for to, rate := range row {
			out[to] = rate
		}
		rates[from] = out
	}
	return Snapshot{
		Meta:       m.meta,
		Currencies: m.registry.Currencies(),
		Rates:      rates,
	}
}

// FromSnapshot rebuilds a matrix from its serialized form. The snapshot is
// assumed to come from a completed matrix, so no completion pass is run.
func FromSnapshot(s Snapshot) *Matrix {
	m := NewMatrix(NewRegistry(s.Currencies), s.Meta)
	for from, row := range s.Rates {
		if _, ok := m.table[from]; !ok {
			continue
		}
		for to, rate := range row {
			if from == to || rate <= 0 {
				continue
			}
			if _, ok := m.table[to]; !ok {
				continue
			}
			m.table[from][to] = rate
		}
	}
	return m
}
