// Package arbitrage detects fee- and liquidity-aware arbitrage on paired
// binary markets.
package arbitrage

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Detector runs the enabled checks against one paired snapshot and ranks the
// results. It holds no mutable state and is safe for concurrent use.
type Detector struct {
	checks []Check
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector creates a detector that runs checks in the given order.
func NewDetector(checks []Check, logger *slog.Logger) *Detector {
	return &Detector{
		checks: checks,
		logger: logger.With(slog.String("component", "arb_detector")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Scan returns every opportunity found, best profit fraction first. Ties keep
// sum_to_one ahead of reference_mismatch. ref may be nil, in which case
// reference-based checks find nothing.
func (d *Detector) Scan(snap domain.PairedSnapshot, ref *domain.ReferenceQuote, budget decimal.Decimal) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, c := range d.checks {
		opp, ok := c.Evaluate(snap, ref, budget)
		if !ok {
			continue
		}
		opp.ID = uuid.NewString()
		opp.MarketID = snap.MarketID
		opp.DetectedAt = d.now()
		d.logger.Debug("arb: opportunity found",
			slog.String("kind", string(opp.Kind)),
			slog.String("market_id", opp.MarketID),
			slog.String("profit_fraction", opp.ProfitFraction.StringFixed(4)),
		)
		opps = append(opps, opp)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		if c := opps[i].ProfitFraction.Cmp(opps[j].ProfitFraction); c != 0 {
			return c > 0
		}
		return opps[i].Kind.Rank() < opps[j].Kind.Rank()
	})
	return opps
}
