package domain

import "time"

// Market is one Up/Down interval market with its two outcome instruments.
type Market struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Question    string    `json:"question"`
	ConditionID string    `json:"condition_id"`
	UpTokenID   string    `json:"up_token_id"`
	DownTokenID string    `json:"down_token_id"`
	NegRisk     bool      `json:"neg_risk"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// TokenIDs returns the instrument ids in Up, Down order.
func (m Market) TokenIDs() []string {
	return []string{m.UpTokenID, m.DownTokenID}
}

// OutcomeFor reports which outcome an instrument id belongs to.
func (m Market) OutcomeFor(assetID string) (Outcome, bool) {
	switch assetID {
	case m.UpTokenID:
		return OutcomeUp, true
	case m.DownTokenID:
		return OutcomeDown, true
	}
	return "", false
}
