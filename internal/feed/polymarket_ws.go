// Package feed keeps a live market-channel subscription and forwards book
// updates to a single consumer channel.
package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// PolymarketWSFeed owns the market-channel connection. It reconnects with
// exponential backoff and restores the current asset set each time.
type PolymarketWSFeed struct {
	wsURL  string
	out    chan domain.BookUpdate
	logger *slog.Logger

	mu     sync.Mutex
	assets []string
	client *polymarket.WSClient

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewPolymarketWSFeed creates a feed whose Updates channel holds up to
// buffer pending messages.
func NewPolymarketWSFeed(wsURL string, buffer int, logger *slog.Logger) *PolymarketWSFeed {
	return &PolymarketWSFeed{
		wsURL:     wsURL,
		out:       make(chan domain.BookUpdate, buffer),
		logger:    logger.With(slog.String("component", "polymarket_ws_feed")),
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

// Updates is the channel the book store consumes.
func (f *PolymarketWSFeed) Updates() <-chan domain.BookUpdate { return f.out }

// Assets returns the current subscription set.
func (f *PolymarketWSFeed) Assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.assets)
}

// Subscribe adds assets. If connected they are subscribed immediately;
// otherwise they are sent on the next connection.
func (f *PolymarketWSFeed) Subscribe(ctx context.Context, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var added []string
	for _, id := range assetIDs {
		if !slices.Contains(f.assets, id) {
			f.assets = append(f.assets, id)
			added = append(added, id)
		}
	}
	if f.client == nil || len(added) == 0 {
		return nil
	}
	return f.client.Subscribe(ctx, added)
}

// Unsubscribe removes assets from the subscription set.
func (f *PolymarketWSFeed) Unsubscribe(ctx context.Context, assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.assets = slices.DeleteFunc(f.assets, func(id string) bool {
		return slices.Contains(assetIDs, id)
	})
	if f.client == nil {
		return nil
	}
	return f.client.Unsubscribe(ctx, assetIDs)
}

// Run keeps a connection open until ctx is done. Updates are delivered in
// frame order; a slow consumer applies backpressure to the read loop rather
// than losing messages.
func (f *PolymarketWSFeed) Run(ctx context.Context) error {
	delay := f.baseDelay
	for {
		connected := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.baseDelay
		}
		f.logger.Warn("feed: reconnecting", slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, f.maxDelay)
	}
}

// runConnection serves one connection and reports whether it got as far as
// subscribing.
func (f *PolymarketWSFeed) runConnection(ctx context.Context) bool {
	client := polymarket.NewWSClient(f.wsURL, func(u domain.BookUpdate) {
		select {
		case f.out <- u:
		case <-ctx.Done():
		}
	}, f.logger)

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		f.logger.Warn("feed: connect failed", slog.String("error", err.Error()))
		return false
	}
	defer client.Close()

	f.mu.Lock()
	assets := slices.Clone(f.assets)
	f.client = client
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.client = nil
		f.mu.Unlock()
	}()

	if err := client.Subscribe(ctx, assets); err != nil {
		f.logger.Warn("feed: subscribe failed", slog.String("error", err.Error()))
		return false
	}
	f.logger.Info("feed: subscribed", slog.Int("assets", len(assets)))

	select {
	case <-ctx.Done():
	case <-client.Done():
		if err := client.Err(); err != nil {
			f.logger.Warn("feed: disconnected", slog.String("error", err.Error()))
		}
	}
	return true
}
