package arbitrage

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"orbwatch/internal/model"
	"orbwatch/internal/rates"
)

// ErrInvalidPolicy is returned by NewFinder for a misconfigured policy.
var ErrInvalidPolicy = errors.New("invalid arbitrage policy")

// Policy configures a search. MinProfitPct is expressed in percentage units,
// so 1.0 means one percent; the computed profit percentage uses the same
// units. SlippagePerStep is the fraction of each hop's rate lost to
// execution cost and must be in [0, 1).
type Policy struct {
	MinProfitPct    float64
	Hops            int
	SlippagePerStep float64
	MaxResults      int
}

// Validate checks the policy for configuration errors.
func (p Policy) Validate() error {
	if p.MinProfitPct < 0 {
		return fmt.Errorf("%w: min profit percentage %f is negative", ErrInvalidPolicy, p.MinProfitPct)
	}
	if p.Hops < 1 {
		return fmt.Errorf("%w: hops %d must be at least 1", ErrInvalidPolicy, p.Hops)
	}
	if p.SlippagePerStep < 0 || p.SlippagePerStep >= 1 {
		return fmt.Errorf("%w: slippage per step %f must be in [0, 1)", ErrInvalidPolicy, p.SlippagePerStep)
	}
	if p.MaxResults < 1 {
		return fmt.Errorf("%w: max results %d must be at least 1", ErrInvalidPolicy, p.MaxResults)
	}
	return nil
}

// Finder searches a completed rate matrix for profitable closed trading
// cycles. A Finder holds no per-search state, so one instance may serve any
// number of concurrent searches.
type Finder struct {
	policy Policy
	logger *slog.Logger
}

// NewFinder creates a Finder, rejecting misconfigured policies up front.
func NewFinder(policy Policy, logger *slog.Logger) (*Finder, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Finder{
		policy: policy,
		logger: logger.With(slog.String("component", "arbitrage_finder")),
	}, nil
}

// Policy returns the finder's policy.
func (f *Finder) Policy() Policy {
	return f.policy
}

// FindOpportunities enumerates every closed cycle of the configured hop count
// that starts and ends at start, evaluates each with slippage applied,
// filters by the minimum profit percentage, and returns the survivors sorted
// by profit percentage descending, truncated to MaxResults. Ties keep
// enumeration order.
//
// A cycle touching a pair with no known rate is silently discarded; only an
// unregistered starting currency fails the search.
func (f *Finder) FindOpportunities(m *rates.Matrix, start string, amount float64) ([]model.Opportunity, error) {
	if !m.Registry().Has(start) {
		return nil, fmt.Errorf("starting currency %q: %w", start, rates.ErrUnknownCurrency)
	}

	others := make([]string, 0, m.Registry().Len())
	for _, id := range m.Registry().IDs() {
		if id != start {
			others = append(others, id)
		}
	}

	// Bounded depth-first walk over ordered selections of distinct
	// intermediates. Order matters: A -> B and B -> A are different trades.
	var found []model.Opportunity
	path := make([]string, 0, f.policy.Hops)
	used := make(map[string]bool, f.policy.Hops)
	var walk func()
	walk = func() {
		if len(path) == f.policy.Hops {
			if op, ok := f.evaluate(m, start, path, amount); ok {
				found = append(found, op)
			}
			return
		}
		for _, id := range others {
			if used[id] {
				continue
			}
			used[id] = true
			path = append(path, id)
			walk()
			path = path[:len(path)-1]
			delete(used, id)
		}
	}
	walk()

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].ProfitPct > found[j].ProfitPct
	})
	if len(found) > f.policy.MaxResults {
		found = found[:f.policy.MaxResults]
	}
	return found, nil
}

// evaluate walks one candidate cycle hop by hop and reports whether it meets
// the profit threshold.
func (f *Finder) evaluate(m *rates.Matrix, start string, intermediates []string, amount float64) (model.Opportunity, bool) {
	cycle := make([]string, 0, len(intermediates)+2)
	cycle = append(cycle, start)
	cycle = append(cycle, intermediates...)
	cycle = append(cycle, start)

	steps := make([]model.Step, 0, len(cycle)-1)
	current := amount
	for i := 0; i < len(cycle)-1; i++ {
		rate, err := m.Rate(cycle[i], cycle[i+1])
		if err != nil || rate <= 0 {
			// No known rate for this hop; the cycle is not viable.
			return model.Opportunity{}, false
		}
		effective := rate * (1 - f.policy.SlippagePerStep)
		after := current * effective
		steps = append(steps, model.Step{
			From:         cycle[i],
			To:           cycle[i+1],
			Rate:         effective,
			AmountBefore: current,
			AmountAfter:  after,
		})
		current = after
	}

	profit := current - amount
	profitPct := profit / amount * 100
	if profitPct < f.policy.MinProfitPct {
		return model.Opportunity{}, false
	}
	return model.Opportunity{
		ID:            uuid.NewString(),
		StartCurrency: start,
		StartAmount:   amount,
		FinalAmount:   current,
		ProfitAmount:  profit,
		ProfitPct:     profitPct,
		Steps:         steps,
	}, true
}

// FindBest returns the single most profitable opportunity, or false when
// there is none.
func (f *Finder) FindBest(m *rates.Matrix, start string, amount float64) (model.Opportunity, bool, error) {
	ops, err := f.FindOpportunities(m, start, amount)
	if err != nil {
		return model.Opportunity{}, false, err
	}
	if len(ops) == 0 {
		return model.Opportunity{}, false, nil
	}
	return ops[0], true, nil
}

// Summarize computes summary statistics over a result list. It returns the
// zero-valued Summary for an empty list.
func Summarize(ops []model.Opportunity) model.Summary {
	s := model.Summary{TotalOpportunities: len(ops)}
	if len(ops) == 0 {
		return s
	}
	s.BestProfitPct = ops[0].ProfitPct
	s.WorstProfitPct = ops[0].ProfitPct
	for _, op := range ops {
		if op.ProfitPct > s.BestProfitPct {
			s.BestProfitPct = op.ProfitPct
		}
		if op.ProfitPct < s.WorstProfitPct {
			s.WorstProfitPct = op.ProfitPct
		}
		s.AverageProfitPct += op.ProfitPct
		s.TotalProfitAmount += op.ProfitAmount
	}
	s.AverageProfitPct /= float64(len(ops))
	return s
}
