package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testClob(t *testing.T, srv *httptest.Server, creds crypto.Credentials) *ClobClient {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	return NewClobClient(srv.URL, signer, creds, 5*time.Second)
}

var testCreds = crypto.Credentials{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}

func TestGammaGetMarketBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		if r.URL.Query().Get("slug") != "btc-updown-15m-900" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":"7","slug":"btc-updown-15m-900","outcomes":"[\"Up\",\"Down\"]","clobTokenIds":"[\"u\",\"d\"]"}]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, time.Second)
	m, err := g.GetMarketBySlug(context.Background(), "btc-updown-15m-900")
	require.NoError(t, err)
	assert.Equal(t, "u", m.UpTokenID)
	assert.Equal(t, "d", m.DownTokenID)

	_, err = g.GetMarketBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckHTTPStatusMapping(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(200, nil))
	assert.ErrorIs(t, checkHTTPStatus(404, nil), domain.ErrNotFound)
	assert.ErrorIs(t, checkHTTPStatus(403, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(429, nil), domain.ErrRateLimited)
	assert.ErrorContains(t, checkHTTPStatus(500, []byte("boom")), "HTTP 500")
}

func TestGatewaySubmitSignsAndPosts(t *testing.T) {
	var got PostOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("POLY_API_KEY"))
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"orderID":"0xabc","status":"live"}`))
	}))
	defer srv.Close()

	gw := NewGateway(testClob(t, srv, testCreds), DefaultGatewayConfig(), testLogger())
	res, err := gw.Submit(context.Background(), domain.OrderRequest{
		AssetID: "123",
		Side:    domain.OrderSideBuy,
		Price:   d("0.48"),
		Size:    d("3.22"),
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "0xabc", res.OrderID)

	assert.Equal(t, "1545600", got.Order.MakerAmount)
	assert.Equal(t, "3220000", got.Order.TakerAmount)
	assert.Equal(t, "BUY", got.Order.Side)
	assert.Equal(t, "GTC", got.OrderType)
	assert.Equal(t, "k", got.Owner)
	assert.True(t, strings.HasPrefix(got.Order.Signature, "0x"))
}

func TestGatewayAmountsSell(t *testing.T) {
	maker, taker := DefaultGatewayConfig().Amounts(domain.OrderSideSell, d("0.5555"), d("10.129"))
	assert.Equal(t, "10120000", maker)
	assert.Equal(t, "5626700", taker)
}

func TestGatewayRejectsDustSize(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	gw := NewGateway(testClob(t, srv, testCreds), DefaultGatewayConfig(), testLogger())
	_, err := gw.Submit(context.Background(), domain.OrderRequest{AssetID: "1", Price: d("0.5"), Size: d("0.001")})
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestGatewayStatusAndCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/data/order/o1":
			_, _ = w.Write([]byte(`{"id":"o1","status":"MATCHED","size_matched":"5"}`))
		case r.Method == http.MethodDelete:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["orderID"] == "bad" {
				_, _ = w.Write([]byte(`{"canceled":[],"not_canceled":{"bad":"already matched"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"canceled":["` + body["orderID"] + `"],"not_canceled":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gw := NewGateway(testClob(t, srv, testCreds), DefaultGatewayConfig(), testLogger())
	rep, err := gw.Status(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, rep.Status)

	assert.NoError(t, gw.Cancel(context.Background(), "o2"))
	assert.ErrorContains(t, gw.Cancel(context.Background(), "bad"), "already matched")

	_, err = gw.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClobRequiresCredentials(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := testClob(t, srv, crypto.Credentials{}).GetOrder(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDeriveAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/derive-api-key", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("POLY_SIGNATURE"))
		assert.Equal(t, "0", r.Header.Get("POLY_NONCE"))
		_, _ = w.Write([]byte(`{"apiKey":"derived","secret":"c2VjcmV0","passphrase":"pp"}`))
	}))
	defer srv.Close()

	c := testClob(t, srv, crypto.Credentials{})
	creds, err := c.DeriveAPIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "derived", creds.Key)
	assert.Equal(t, "derived", c.Credentials().Key)
}

func TestWSClientSubscribesAndDecodes(t *testing.T) {
	cmds := make(chan WSCommand, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd WSCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			cmds <- cmd
			if cmd.Type == "market" {
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`[{"event_type":"book","asset_id":"up","bids":[],"asks":[{"price":"0.5","size":"1"}]}]`))
			}
		}
	}))
	defer srv.Close()

	updates := make(chan domain.BookUpdate, 4)
	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), func(u domain.BookUpdate) { updates <- u }, testLogger())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.Subscribe(context.Background(), []string{"up", "down"}))
	first := <-cmds
	assert.Equal(t, "market", first.Type)
	assert.Equal(t, []string{"up", "down"}, first.AssetIDs)

	select {
	case u := <-updates:
		assert.Equal(t, "up", u.AssetID)
		assert.True(t, u.Replace)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	require.NoError(t, client.Unsubscribe(context.Background(), []string{"down"}))
	second := <-cmds
	assert.Equal(t, "unsubscribe", second.Operation)
	assert.Equal(t, 1, client.Subscribed())
}

func TestWSClientDoneOnServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), func(domain.BookUpdate) {}, testLogger())
	require.NoError(t, client.Connect(context.Background()))

	select {
	case <-client.Done():
		assert.ErrorIs(t, client.Err(), domain.ErrWSDisconnect)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice disconnect")
	}
}
