package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// MarketSource reports the market currently being traded.
type MarketSource interface {
	Current() (domain.Market, bool)
	Ready() bool
}

// RiskSource reports today's booked P&L and whether trading is allowed.
type RiskSource interface {
	DailyPnL() decimal.Decimal
	Allow() error
}

// ReferenceSource reports the last observed reference price, stale or not.
type ReferenceSource interface {
	LastKnown() (domain.ReferenceQuote, bool)
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode      string
	markets   MarketSource
	risk      RiskSource
	reference ReferenceSource
}

// NewStatusHandler creates a StatusHandler. markets, risk and reference may
// be nil.
func NewStatusHandler(mode string, markets MarketSource, risk RiskSource, reference ReferenceSource) *StatusHandler {
	return &StatusHandler{mode: mode, markets: markets, risk: risk, reference: reference}
}

// GetStatus reports mode, active market, kill-switch state and the last
// reference price.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"mode": h.mode}
	if h.markets != nil {
		if m, ok := h.markets.Current(); ok {
			resp["market"] = m
		}
		resp["ready"] = h.markets.Ready()
	}
	if h.risk != nil {
		resp["daily_pnl"] = h.risk.DailyPnL().StringFixed(4)
		resp["kill_switch"] = h.risk.Allow() != nil
	}
	if h.reference != nil {
		if q, ok := h.reference.LastKnown(); ok {
			resp["reference"] = q
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
