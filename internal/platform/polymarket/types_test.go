package polymarket

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseBookFrame(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"up","market":"0xm","timestamp":"1700000000123",
		"bids":[{"price":"0.48","size":"30"}],"asks":[{"price":"0.52","size":"25"},{"price":"0.53","size":"10"}]}`

	ups, err := ParseMarketFrame([]byte(raw))
	require.NoError(t, err)
	require.Len(t, ups, 1)

	u := ups[0]
	assert.Equal(t, "up", u.AssetID)
	assert.Equal(t, "0xm", u.Market)
	assert.True(t, u.Replace)
	require.Len(t, u.Asks, 2)
	assert.True(t, u.Asks[0].Price.Equal(d("0.52")))
	assert.True(t, u.Bids[0].Size.Equal(d("30")))
	assert.Equal(t, int64(1700000000123), u.Timestamp.UnixMilli())
}

func TestParsePriceChangeArrayForm(t *testing.T) {
	raw := `{"event_type":"price_change","market":"0xm","timestamp":"1700000000000","price_changes":[
		{"asset_id":"up","price":"0.50","size":"200","side":"BUY"},
		{"asset_id":"down","price":"0.49","size":"0","side":"SELL"},
		{"asset_id":"up","price":"0.55","size":"10","side":"SELL"}]}`

	ups, err := ParseMarketFrame([]byte(raw))
	require.NoError(t, err)
	require.Len(t, ups, 2)

	assert.Equal(t, "up", ups[0].AssetID)
	assert.False(t, ups[0].Replace)
	require.Len(t, ups[0].Bids, 1)
	require.Len(t, ups[0].Asks, 1)
	assert.True(t, ups[0].Asks[0].Price.Equal(d("0.55")))

	assert.Equal(t, "down", ups[1].AssetID)
	require.Len(t, ups[1].Asks, 1)
	assert.True(t, ups[1].Asks[0].Size.IsZero())
}

func TestParsePriceChangeLegacyForms(t *testing.T) {
	changes := `{"event_type":"price_change","asset_id":"up","changes":[{"price":"0.4","size":"5","side":"BUY"}]}`
	ups, err := ParseMarketFrame([]byte(changes))
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, "up", ups[0].AssetID)
	assert.Len(t, ups[0].Bids, 1)

	single := `{"event_type":"price_change","asset_id":"down","price":"0.6","size":"7","side":"SELL"}`
	ups, err = ParseMarketFrame([]byte(single))
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Len(t, ups[0].Asks, 1)
}

func TestParseFrameArrayAndIgnored(t *testing.T) {
	raw := `[{"event_type":"book","asset_id":"a","bids":[],"asks":[]},
		{"event_type":"last_trade_price","asset_id":"a","price":"0.5"},
		{"event_type":"book","asset_id":"b","bids":[],"asks":[]}]`
	ups, err := ParseMarketFrame([]byte(raw))
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, "b", ups[1].AssetID)

	ups, err = ParseMarketFrame([]byte("PONG"))
	require.NoError(t, err)
	assert.Empty(t, ups)
}

func TestParseFrameMalformed(t *testing.T) {
	cases := map[string]string{
		"bad json":  `{"event_type":`,
		"bad price": `{"event_type":"book","asset_id":"a","asks":[{"price":"abc","size":"1"}]}`,
		"bad side":  `{"event_type":"price_change","asset_id":"a","changes":[{"price":"0.5","size":"1","side":"HOLD"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMarketFrame([]byte(raw))
			assert.ErrorIs(t, err, domain.ErrMalformedUpdate)
		})
	}
}

func TestToDomainMarketFromClobTokenIDs(t *testing.T) {
	m := APIMarket{
		ID:           "1",
		Slug:         "btc-updown-15m-1700000100",
		Outcomes:     `["Down","Up"]`,
		ClobTokenIDs: `["111","222"]`,
		EndDate:      "2023-11-14T22:30:00Z",
	}
	dm, err := m.ToDomainMarket()
	require.NoError(t, err)
	assert.Equal(t, "222", dm.UpTokenID)
	assert.Equal(t, "111", dm.DownTokenID)
	assert.Equal(t, 2023, dm.End.Year())

	_, err = APIMarket{ClobTokenIDs: `["only"]`}.ToDomainMarket()
	assert.Error(t, err)
}

func TestResolution(t *testing.T) {
	open := APIMarket{Outcomes: `["Up","Down"]`, OutcomePrices: `["0.5","0.5"]`}
	assert.Equal(t, Resolution{}, open.Resolution())

	byPrice := APIMarket{Closed: true, Outcomes: `["Up","Down"]`, OutcomePrices: `["0","1"]`}
	assert.Equal(t, domain.OutcomeDown, byPrice.Resolution().Winner)

	byToken := APIMarket{Closed: true, Tokens: []Token{{TokenID: "1", Outcome: "Up", Winner: true}, {TokenID: "2", Outcome: "Down"}}}
	assert.Equal(t, domain.OutcomeUp, byToken.Resolution().Winner)
}

func TestOrderStatusNormalisation(t *testing.T) {
	rep := APIOrder{ID: "o1", Status: "MATCHED", SizeMatched: "3.22"}.ToStatusReport()
	assert.Equal(t, domain.OrderStatusFilled, rep.Status)
	assert.True(t, rep.FilledSize.Equal(d("3.22")))

	assert.Equal(t, domain.OrderStatusPending, APIOrder{Status: "LIVE"}.ToStatusReport().Status)
	assert.Equal(t, domain.OrderStatusCanceled, APIOrder{Status: "CANCELED"}.ToStatusReport().Status)

	rejected := APIOrderResult{Success: false, ErrorMsg: "not enough balance"}.ToOrderResult()
	assert.False(t, rejected.Accepted)
	assert.Equal(t, domain.OrderStatusRejected, rejected.Status)
}
