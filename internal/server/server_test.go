package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/ledger"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type bookStub map[string]domain.BookSnapshot

func (b bookStub) Snapshot(id string) (domain.BookSnapshot, bool) {
	s, ok := b[id]
	return s, ok
}

type execStub struct {
	res   []domain.ExecutionResult
	limit int
}

func (e *execStub) ListRecent(_ context.Context, limit int) ([]domain.ExecutionResult, error) {
	e.limit = limit
	return e.res, nil
}

type referenceStub struct{ q domain.ReferenceQuote }

func (r referenceStub) LastKnown() (domain.ReferenceQuote, bool) { return r.q, true }

type limiterStub struct {
	allow bool
	err   error
}

func (l limiterStub) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, l.err
}

func newTestServer(t *testing.T, cfg Config, limiter limiterStub) (*httptest.Server, *execStub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New(nil, logger)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(context.Background(), domain.NewPosition("p1", "m1", "up", domain.OutcomeUp, d("10"), d("0.48"), "o1", at)))
	require.NoError(t, l.Record(context.Background(), domain.NewPosition("p2", "m1", "down", domain.OutcomeDown, d("10"), d("0.47"), "o2", at)))
	require.NoError(t, l.Record(context.Background(), domain.NewPosition("p3", "m2", "up2", domain.OutcomeUp, d("5"), d("0.5"), "o3", at)))

	books := bookStub{"up": {
		AssetID: "up",
		Bids:    []domain.PriceLevel{{Price: d("0.47"), Size: d("10")}},
		Asks:    []domain.PriceLevel{{Price: d("0.48"), Size: d("20")}},
		Seq:     3,
	}}
	ref := referenceStub{domain.ReferenceQuote{Price: d("64000"), Source: "chainlink", Stale: true}}
	execs := &execStub{res: []domain.ExecutionResult{{ID: "e1", State: domain.StateFailed, Err: errors.New("gateway down")}}}

	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"ok": func(context.Context) error { return nil },
		}, logger),
		Status:     handler.NewStatusHandler("paper", nil, nil, ref),
		Positions:  handler.NewPositionHandler(l),
		Executions: handler.NewExecutionHandler(execs, logger),
		Book:       handler.NewBookHandler(books),
	}
	srv := httptest.NewServer(Routes(cfg, h, limiter, logger))
	t.Cleanup(srv.Close)
	return srv, execs
}

func getJSON(t *testing.T, url string, hdr map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"}, limiterStub{allow: true})
	code, body := getJSON(t, srv.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequiredOutsideHealth(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"}, limiterStub{allow: true})

	code, _ := getJSON(t, srv.URL+"/api/positions", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = getJSON(t, srv.URL+"/api/positions", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = getJSON(t, srv.URL+"/api/positions", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, code)
}

func TestPositionsFilter(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, limiterStub{allow: true})

	_, all := getJSON(t, srv.URL+"/api/positions", nil)
	assert.Len(t, all["positions"], 3)

	_, m1 := getJSON(t, srv.URL+"/api/positions?market=m1", nil)
	assert.Len(t, m1["positions"], 2)
	assert.Equal(t, "9.5", m1["cost"])

	_, none := getJSON(t, srv.URL+"/api/positions?market=zzz", nil)
	assert.Equal(t, []any{}, none["positions"])
}

func TestPnL(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, limiterStub{allow: true})

	// Up wins: 10×1 − 9.5.
	code, body := getJSON(t, srv.URL+"/api/pnl?market=m1&settle_up=1&settle_down=0", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.5", body["pnl"])

	code, body = getJSON(t, srv.URL+"/api/pnl?market=m1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "-9.5", body["pnl"])

	code, _ = getJSON(t, srv.URL+"/api/pnl?settle_up=1.5", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBook(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, limiterStub{allow: true})

	code, body := getJSON(t, srv.URL+"/api/book?asset=up", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.47", body["best_bid"])
	assert.Equal(t, "0.48", body["best_ask"])

	code, _ = getJSON(t, srv.URL+"/api/book?asset=nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = getJSON(t, srv.URL+"/api/book", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecentExecutions(t *testing.T) {
	srv, execs := newTestServer(t, Config{}, limiterStub{allow: true})

	code, body := getJSON(t, srv.URL+"/api/executions/recent?limit=1000", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 200, execs.limit)
	list := body["executions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "gateway down", list[0].(map[string]any)["error"])
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Config{RateLimit: 1, RateWindow: time.Second}, limiterStub{allow: false})
	code, _ := getJSON(t, srv.URL+"/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)

	srv, _ = newTestServer(t, Config{RateLimit: 1, RateWindow: time.Second}, limiterStub{err: errors.New("redis down")})
	code, body := getJSON(t, srv.URL+"/api/status", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paper", body["mode"])
}

func TestStatusShowsStaleReference(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, limiterStub{allow: true})
	code, body := getJSON(t, srv.URL+"/api/status", nil)
	assert.Equal(t, http.StatusOK, code)
	ref, ok := body["reference"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "64000", ref["price"])
	assert.Equal(t, true, ref["stale"])
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example"}}, limiterStub{allow: true})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
