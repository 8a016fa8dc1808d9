package handler

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

var errOutOfRange = errors.New("must be between 0 and 1")

// PositionReader is the read side of the position ledger.
type PositionReader interface {
	All() []domain.Position
	PositionsFor(marketID string) []domain.Position
	PnL(settlement map[string]decimal.Decimal) decimal.Decimal
	MarketPnL(marketID string, settlement map[string]decimal.Decimal) decimal.Decimal
}

// PositionHandler serves positions and P&L.
type PositionHandler struct {
	ledger PositionReader
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(ledger PositionReader) *PositionHandler {
	return &PositionHandler{ledger: ledger}
}

type positionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Cost      string            `json:"cost"`
}

// ListPositions handles GET /api/positions?market=. Without market every
// position is returned.
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions(r.URL.Query().Get("market"))
	cost := decimal.Zero
	for _, p := range positions {
		cost = cost.Add(p.Cost)
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: positions, Cost: cost.String()})
}

type pnlResponse struct {
	Market     string `json:"market,omitempty"`
	Positions  int    `json:"positions"`
	Cost       string `json:"cost"`
	SettleUp   string `json:"settle_up"`
	SettleDown string `json:"settle_down"`
	PnL        string `json:"pnl"`
}

// PnL handles GET /api/pnl?market=&settle_up=&settle_down=. Settlement
// values default to zero and must lie in [0, 1].
func (h *PositionHandler) PnL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	up, err := settleValue(q.Get("settle_up"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "settle_up: "+err.Error())
		return
	}
	down, err := settleValue(q.Get("settle_down"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "settle_down: "+err.Error())
		return
	}

	market := q.Get("market")
	positions := h.positions(market)
	settlement := make(map[string]decimal.Decimal, len(positions))
	cost := decimal.Zero
	for _, p := range positions {
		cost = cost.Add(p.Cost)
		switch p.Outcome {
		case domain.OutcomeUp:
			settlement[p.AssetID] = up
		case domain.OutcomeDown:
			settlement[p.AssetID] = down
		}
	}

	var pnl decimal.Decimal
	if market != "" {
		pnl = h.ledger.MarketPnL(market, settlement)
	} else {
		pnl = h.ledger.PnL(settlement)
	}
	writeJSON(w, http.StatusOK, pnlResponse{
		Market:     market,
		Positions:  len(positions),
		Cost:       cost.String(),
		SettleUp:   up.String(),
		SettleDown: down.String(),
		PnL:        pnl.String(),
	})
}

func (h *PositionHandler) positions(market string) []domain.Position {
	var out []domain.Position
	if market == "" {
		out = h.ledger.All()
	} else {
		out = h.ledger.PositionsFor(market)
	}
	if out == nil {
		out = []domain.Position{}
	}
	return out
}

func settleValue(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, errOutOfRange
	}
	return v, nil
}
