package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionState is a step of the execution state machine.
type ExecutionState string

const (
	StateSubmitting          ExecutionState = "submitting"
	StateAllAccepted         ExecutionState = "all_accepted"
	StatePartialOrFullReject ExecutionState = "partial_or_full_reject"
	StateMonitoring          ExecutionState = "monitoring"
	StateAllFilled           ExecutionState = "all_filled"
	StatePartialFill         ExecutionState = "partial_fill"
	StateTimedOut            ExecutionState = "timed_out"

	StateCommitted  ExecutionState = "committed"
	StateRolledBack ExecutionState = "rolled_back"
	StateEscalated  ExecutionState = "escalated"
	StateFailed     ExecutionState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateEscalated, StateFailed:
		return true
	}
	return false
}

// LegOutcome records what happened to one submitted leg.
type LegOutcome struct {
	Outcome  Outcome         `json:"outcome"`
	AssetID  string          `json:"asset_id"`
	OrderID  string          `json:"order_id,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	Accepted bool            `json:"accepted"`
	Filled   bool            `json:"filled"`
	Canceled bool            `json:"canceled"`
	Error    string          `json:"error,omitempty"`
}

// ExecutionResult is the final record of one Execute call.
type ExecutionResult struct {
	ID             string          `json:"id"`
	OpportunityID  string          `json:"opportunity_id"`
	MarketID       string          `json:"market_id"`
	Kind           OpportunityKind `json:"kind"`
	State          ExecutionState  `json:"state"`
	Legs           []LegOutcome    `json:"legs"`
	Positions      []Position      `json:"positions"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	Err            error           `json:"-"`
	CancelErrors   []error         `json:"-"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// ErrorString returns the failure cause, or "" when there was none.
func (r ExecutionResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
