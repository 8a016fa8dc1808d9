package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false").
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder is an order as returned by GET /data/order/{id}.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	CreatedAt    int64  `json:"created_at"`
}

// APIOrderResult is the response to POST /order.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// SignedOrder is the order body posted to the CLOB.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// PostOrderRequest wraps a signed order with its owner and lifetime.
type PostOrderRequest struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// ToOrderResult maps the CLOB response onto the gateway result.
func (r APIOrderResult) ToOrderResult() domain.OrderResult {
	out := domain.OrderResult{
		Accepted: r.Success && r.OrderID != "",
		OrderID:  r.OrderID,
		Message:  r.ErrorMsg,
		Status:   normalizeStatus(r.Status),
	}
	if !out.Accepted {
		out.Status = domain.OrderStatusRejected
	}
	return out
}

// ToStatusReport converts a polled order into a fill report.
func (a APIOrder) ToStatusReport() domain.OrderStatusReport {
	rep := domain.OrderStatusReport{
		OrderID:   a.ID,
		Status:    normalizeStatus(a.Status),
		UpdatedAt: time.Now().UTC(),
	}
	if matched, err := decimal.NewFromString(a.SizeMatched); err == nil {
		rep.FilledSize = matched
	}
	return rep
}

func normalizeStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "matched", "filled":
		return domain.OrderStatusFilled
	case "canceled", "cancelled", "canceled_market_resolved":
		return domain.OrderStatusCanceled
	case "rejected", "unmatched":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded, e.g. "[\"Up\",\"Down\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded, e.g. "[\"1\",\"0\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
	NegRisk       bool     `json:"negRisk"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
	EventStart    string   `json:"eventStartTime"`
}

// Token is a token entry inside a Gamma market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// decodeStringList parses the JSON-in-a-string arrays Gamma uses.
func decodeStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// outcomeTokens pairs outcome labels with token ids, preferring the
// explicit tokens array when present.
func (m APIMarket) outcomeTokens() []Token {
	if len(m.Tokens) > 0 {
		return m.Tokens
	}
	ids := decodeStringList(m.ClobTokenIDs)
	labels := decodeStringList(m.Outcomes)
	out := make([]Token, 0, len(ids))
	for i, id := range ids {
		tok := Token{TokenID: id}
		if i < len(labels) {
			tok.Outcome = labels[i]
		}
		out = append(out, tok)
	}
	return out
}

// ToDomainMarket maps a Gamma market onto an Up/Down pair. Labels
// "Up"/"Yes" select the Up token; otherwise the first token is Up.
func (m APIMarket) ToDomainMarket() (domain.Market, error) {
	toks := m.outcomeTokens()
	if len(toks) != 2 {
		return domain.Market{}, fmt.Errorf("polymarket: market %s has %d outcome tokens", m.Slug, len(toks))
	}

	up, down := toks[0], toks[1]
	if isUpLabel(down.Outcome) && !isUpLabel(up.Outcome) {
		up, down = down, up
	}

	dm := domain.Market{
		ID:          m.ID,
		Slug:        m.Slug,
		Question:    m.Question,
		ConditionID: m.ConditionID,
		UpTokenID:   up.TokenID,
		DownTokenID: down.TokenID,
		NegRisk:     m.NegRisk,
	}
	if t, ok := parseTime(m.EventStart); ok {
		dm.Start = t
	} else if t, ok := parseTime(m.StartDate); ok {
		dm.Start = t
	}
	if t, ok := parseTime(m.EndDate); ok {
		dm.End = t
	}
	return dm, nil
}

func isUpLabel(s string) bool {
	return strings.EqualFold(s, "up") || strings.EqualFold(s, "yes")
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Resolution is the settlement state of a market.
type Resolution struct {
	Closed bool
	Winner domain.Outcome
}

// Resolution reads the winning outcome from tokens or outcome prices.
func (m APIMarket) Resolution() Resolution {
	res := Resolution{Closed: m.Closed}
	if !m.Closed {
		return res
	}
	for _, t := range m.Tokens {
		if t.Winner {
			if isUpLabel(t.Outcome) {
				res.Winner = domain.OutcomeUp
			} else {
				res.Winner = domain.OutcomeDown
			}
			return res
		}
	}
	labels := decodeStringList(m.Outcomes)
	prices := decodeStringList(m.OutcomePrices)
	for i, p := range prices {
		if p == "1" && i < len(labels) {
			if isUpLabel(labels[i]) {
				res.Winner = domain.OutcomeUp
			} else {
				res.Winner = domain.OutcomeDown
			}
		}
	}
	return res
}

// --------------------------------------------------------------------------
// Market channel (WebSocket) DTOs
// --------------------------------------------------------------------------

// WSPriceLevel is a single level in a book frame.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSChange is one level change in a price_change frame.
type WSChange struct {
	AssetID string `json:"asset_id,omitempty"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

// WSEvent is the union of the market channel frames this client decodes.
// Older price_change frames carry a top-level asset with a changes array;
// newer ones carry price_changes with the asset on each entry.
type WSEvent struct {
	EventType    string         `json:"event_type"`
	AssetID      string         `json:"asset_id"`
	Market       string         `json:"market"`
	Timestamp    string         `json:"timestamp"`
	Bids         []WSPriceLevel `json:"bids"`
	Asks         []WSPriceLevel `json:"asks"`
	Changes      []WSChange     `json:"changes"`
	PriceChanges []WSChange     `json:"price_changes"`

	// Single-change form.
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

// WSCommand subscribes to or unsubscribes from market channel assets. The
// first message on a connection sets Type; later ones set Operation.
type WSCommand struct {
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
	AssetIDs  []string `json:"assets_ids"`
}

// ParseMarketFrame decodes one WebSocket text frame into book updates. A
// frame may hold a single event or an array of events. Event types other
// than book and price_change are ignored.
func ParseMarketFrame(raw []byte) ([]domain.BookUpdate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var events []WSEvent
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("polymarket/ws: %w: %w", domain.ErrMalformedUpdate, err)
		}
	} else if raw[0] == '{' {
		var ev WSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("polymarket/ws: %w: %w", domain.ErrMalformedUpdate, err)
		}
		events = append(events, ev)
	} else {
		// Plain-text control replies such as "PONG".
		return nil, nil
	}

	var out []domain.BookUpdate
	for _, ev := range events {
		ups, err := ev.toUpdates()
		if err != nil {
			return nil, err
		}
		out = append(out, ups...)
	}
	return out, nil
}

func (ev WSEvent) toUpdates() ([]domain.BookUpdate, error) {
	ts := parseMillis(ev.Timestamp)
	switch ev.EventType {
	case "book":
		bids, err := parseLevels(ev.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(ev.Asks)
		if err != nil {
			return nil, err
		}
		return []domain.BookUpdate{{
			AssetID:   ev.AssetID,
			Market:    ev.Market,
			Bids:      bids,
			Asks:      asks,
			Replace:   true,
			Timestamp: ts,
		}}, nil

	case "price_change":
		changes := ev.PriceChanges
		if len(changes) == 0 {
			changes = ev.Changes
		}
		if len(changes) == 0 && ev.Price != "" {
			changes = []WSChange{{Price: ev.Price, Size: ev.Size, Side: ev.Side}}
		}
		return groupChanges(ev, changes, ts)
	}
	return nil, nil
}

// groupChanges folds level changes into one update per asset, keeping the
// order in which assets first appear.
func groupChanges(ev WSEvent, changes []WSChange, ts time.Time) ([]domain.BookUpdate, error) {
	var out []domain.BookUpdate
	index := make(map[string]int)
	for _, c := range changes {
		asset := c.AssetID
		if asset == "" {
			asset = ev.AssetID
		}
		side, err := domain.ParseSide(c.Side)
		if err != nil {
			return nil, fmt.Errorf("polymarket/ws: %w", err)
		}
		lvl, err := parseLevel(c.Price, c.Size)
		if err != nil {
			return nil, err
		}

		i, ok := index[asset]
		if !ok {
			i = len(out)
			index[asset] = i
			out = append(out, domain.BookUpdate{AssetID: asset, Market: ev.Market, Timestamp: ts})
		}
		if side == domain.SideBid {
			out[i].Bids = append(out[i].Bids, lvl)
		} else {
			out[i].Asks = append(out[i].Asks, lvl)
		}
	}
	return out, nil
}

func parseLevels(in []WSPriceLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		lvl, err := parseLevel(l.Price, l.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

func parseLevel(price, size string) (domain.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("polymarket/ws: %w: price %q", domain.ErrMalformedUpdate, price)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("polymarket/ws: %w: size %q", domain.ErrMalformedUpdate, size)
	}
	return domain.PriceLevel{Price: p, Size: s}, nil
}

// parseMillis reads the exchange's millisecond timestamps. Unparseable
// values yield the zero time, which the book store replaces with now.
func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
