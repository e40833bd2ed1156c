package rates

import (
	"errors"
	"fmt"

	"orbwatch/internal/model"
)

var (
	// ErrUnknownCurrency is returned when a currency id is not in the registry.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrInvalidRate is returned when a non-positive rate is supplied.
	ErrInvalidRate = errors.New("rate must be positive")

	// ErrNoRate is returned by Convert when no rate is known for the pair.
	ErrNoRate = errors.New("no rate available")
)

// Registry is the fixed, ordered set of currencies backing a rate matrix.
// Registration order is preserved so that iteration over the registry is
// deterministic. It is immutable once built.
type Registry struct {
	ids   []string
	names map[string]string
}

// NewRegistry builds a registry from the given currencies. A duplicate id
// keeps its first registration and later entries are ignored.
func NewRegistry(currencies []model.Currency) *Registry {
	r := &Registry{names: make(map[string]string, len(currencies))}
	for _, c := range currencies {
		if _, ok := r.names[c.ID]; ok {
			continue
		}
		r.ids = append(r.ids, c.ID)
		r.names[c.ID] = c.Name
	}
	return r
}

// Has reports whether the id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.names[id]
	return ok
}

// Name returns the display name for the id.
func (r *Registry) Name(id string) (string, error) {
	name, ok := r.names[id]
	if !ok {
		return "", fmt.Errorf("currency %q: %w", id, ErrUnknownCurrency)
	}
	return name, nil
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of registered currencies.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Currencies returns the registered currencies in registration order.
func (r *Registry) Currencies() []model.Currency {
	out := make([]model.Currency, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, model.Currency{ID: id, Name: r.names[id]})
	}
	return out
}

// Names returns a copy of the id to display name mapping.
func (r *Registry) Names() map[string]string {
	out := make(map[string]string, len(r.names))
	for id, name := range r.names {
		out[id] = name
	}
	return out
}
