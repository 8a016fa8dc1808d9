package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readTimeout closes a connection that has been silent this long. The
	// keepalive below makes the server answer well within it.
	readTimeout = 60 * time.Second

	// pingPeriod is how often the text keepalive is sent.
	pingPeriod = 10 * time.Second
)

// UpdateHandler receives decoded book updates in frame order.
type UpdateHandler func(domain.BookUpdate)

// WSClient is one connection to the CLOB market channel. It does not
// reconnect by itself; Done is closed when the connection drops and the
// owner decides what to do next.
type WSClient struct {
	wsURL    string
	onUpdate UpdateHandler
	logger   *slog.Logger

	mu          sync.Mutex // guards conn writes, subscribed and initialSent
	conn        *websocket.Conn
	subscribed  map[string]struct{}
	initialSent bool

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewWSClient creates a client for wsURL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, onUpdate UpdateHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:      wsURL,
		onUpdate:   onUpdate,
		logger:     logger.With(slog.String("component", "polymarket_ws")),
		subscribed: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// Connect dials the market channel and starts the read and keepalive loops.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	go w.pingLoop(conn)
	return nil
}

// Subscribe adds assets to the subscription. The first call on a connection
// sends the channel handshake; later calls use the subscribe operation.
func (w *WSClient) Subscribe(_ context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cmd := WSCommand{Operation: "subscribe", AssetIDs: assetIDs}
	if !w.initialSent {
		cmd = WSCommand{Type: "market", AssetIDs: assetIDs}
	}
	if err := w.sendLocked(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	w.initialSent = true
	for _, id := range assetIDs {
		w.subscribed[id] = struct{}{}
	}
	return nil
}

// Unsubscribe removes assets from the subscription.
func (w *WSClient) Unsubscribe(_ context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.sendLocked(WSCommand{Operation: "unsubscribe", AssetIDs: assetIDs}); err != nil {
		return fmt.Errorf("polymarket/ws: unsubscribe: %w", err)
	}
	for _, id := range assetIDs {
		delete(w.subscribed, id)
	}
	return nil
}

// Subscribed returns the number of assets currently subscribed.
func (w *WSClient) Subscribed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subscribed)
}

// Done is closed once the connection has ended.
func (w *WSClient) Done() <-chan struct{} { return w.done }

// Err returns why the connection ended, or nil after Close.
func (w *WSClient) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close shuts the connection down. It is safe to call more than once.
func (w *WSClient) Close() error {
	w.shutdown(nil)
	return nil
}

func (w *WSClient) shutdown(cause error) {
	w.closeOnce.Do(func() {
		w.errMu.Lock()
		w.err = cause
		w.errMu.Unlock()

		w.mu.Lock()
		if w.conn != nil {
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = w.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = w.conn.Close()
		}
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *WSClient) sendLocked(cmd WSCommand) error {
	if w.conn == nil {
		return errors.New("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.shutdown(fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		updates, err := ParseMarketFrame(msg)
		if err != nil {
			w.logger.Warn("polymarket/ws: dropped frame", slog.String("error", err.Error()))
			continue
		}
		for _, u := range updates {
			w.onUpdate(u)
		}
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			w.mu.Unlock()
			if err != nil {
				w.shutdown(fmt.Errorf("%w: ping: %w", domain.ErrWSDisconnect, err))
				return
			}
		}
	}
}
