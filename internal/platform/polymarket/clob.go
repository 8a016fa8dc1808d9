package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ClobClient is the REST client for the CLOB order API. Requests are signed
// with L2 HMAC headers once credentials are set or derived.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer

	mu    sync.RWMutex
	creds crypto.Credentials
}

// NewClobClient creates a CLOB client for baseURL, e.g.
// "https://clob.polymarket.com". creds may be empty and derived later.
func NewClobClient(baseURL string, signer *crypto.Signer, creds crypto.Credentials, timeout time.Duration) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		creds:      creds,
	}
}

// Signer returns the wallet signer.
func (c *ClobClient) Signer() *crypto.Signer { return c.signer }

// Credentials returns the current L2 credentials.
func (c *ClobClient) Credentials() crypto.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// PostOrder submits a signed order. A response with success=false is not an
// error; the caller inspects the result.
func (c *ClobClient) PostOrder(ctx context.Context, order PostOrderRequest) (APIOrderResult, error) {
	body, err := c.doAuthenticated(ctx, http.MethodPost, "/order", order)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	var res APIOrderResult
	if err := json.Unmarshal(body, &res); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return res, nil
}

// GetOrder fetches one order by id.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (APIOrder, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}
	var o APIOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	if o.ID == "" {
		return APIOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, domain.ErrNotFound)
	}
	return o, nil
}

// CancelOrder cancels one order. The CLOB reports per-order refusals in
// not_canceled rather than with an HTTP error.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", map[string]string{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	var res struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := res.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel order %s refused: %s", orderID, reason)
	}
	return nil
}

// DeriveAPIKey signs a ClobAuth message and exchanges it for L2
// credentials, which are stored on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.Credentials, error) {
	ts := time.Now().Unix()
	sig, err := c.signer.SignAuthMessage(ts, 0)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_NONCE", "0")

	body, err := c.do(req)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}
	var creds crypto.Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	if creds.Empty() {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w: empty key", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return creds, nil
}

func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var (
		reader  io.Reader
		bodyStr string
	)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(data)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	creds := c.Credentials()
	if creds.Empty() {
		return nil, fmt.Errorf("%w: no api credentials", domain.ErrUnauthorized)
	}
	for k, v := range creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header[k] = v
	}
	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
