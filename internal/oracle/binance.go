package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBinanceURL is the public spot ticker endpoint.
const DefaultBinanceURL = "https://api.binance.com"

// Binance is the backup reference source.
type Binance struct {
	baseURL    string
	symbol     string
	httpClient *http.Client
}

// NewBinance creates a ticker reader for symbol (e.g. BTCUSDT).
func NewBinance(baseURL, symbol string, timeout time.Duration) *Binance {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Binance{
		baseURL:    baseURL,
		symbol:     symbol,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *Binance) Name() string { return "binance" }

type tickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Price fetches the last traded price.
func (b *Binance) Price(ctx context.Context) (decimal.Decimal, time.Time, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.baseURL, b.symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: binance: create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: binance: status %d: %s", resp.StatusCode, body)
	}
	var t tickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: binance: decode: %w", err)
	}
	if !t.Price.IsPositive() {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle: binance: non-positive price %s", t.Price)
	}
	return t.Price, time.Now().UTC(), nil
}
