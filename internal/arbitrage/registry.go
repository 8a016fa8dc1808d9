package arbitrage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Check is one detection algorithm run on every scan.
type Check interface {
	Kind() domain.OpportunityKind
	Evaluate(snap domain.PairedSnapshot, ref *domain.ReferenceQuote, budget decimal.Decimal) (domain.Opportunity, bool)
}

// Registry holds named checks for selection by config.
type Registry struct {
	checks map[string]Check
	mu     sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add checks.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// DefaultRegistry returns a registry holding every built-in check.
func DefaultRegistry(p Params) *Registry {
	r := NewRegistry()
	r.Register(NewSumToOne(p))
	r.Register(NewReferenceMismatch(p))
	return r
}

// Register adds a check under its kind.
func (r *Registry) Register(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[string(c.Kind())] = c
}

// Get returns the check by name, or an error if not found.
func (r *Registry) Get(name string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[name]
	if !ok {
		return nil, fmt.Errorf("arbitrage check %q not found", name)
	}
	return c, nil
}

// Select resolves names into checks, failing on the first unknown one.
func (r *Registry) Select(names []string) ([]Check, error) {
	out := make([]Check, 0, len(names))
	for _, n := range names {
		c, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// List returns all registered check names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for n := range r.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
