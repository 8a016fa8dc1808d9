package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// BookMirror copies book snapshots into Redis for dashboards.
//
// Key schema (under the client prefix):
//
//	book:{asset}:bids  sorted set, member = price, score = price
//	book:{asset}:asks  sorted set, member = price, score = price
//	book:{asset}:size  hash, "bid:{price}" / "ask:{price}" -> size
//	book:{asset}:bbo   hash with bid, ask, seq, ts
type BookMirror struct {
	c *Client
}

// NewBookMirror creates a BookMirror.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{c: c}
}

// SetSnapshot replaces the mirrored book for one asset atomically.
func (m *BookMirror) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	bids := m.c.key("book", snap.AssetID, "bids")
	asks := m.c.key("book", snap.AssetID, "asks")
	sizes := m.c.key("book", snap.AssetID, "size")
	bbo := m.c.key("book", snap.AssetID, "bbo")

	pipe := m.c.rdb.TxPipeline()
	pipe.Del(ctx, bids, asks, sizes, bbo)

	for _, z := range levelMembers(snap.Bids) {
		pipe.ZAdd(ctx, bids, z)
	}
	for _, z := range levelMembers(snap.Asks) {
		pipe.ZAdd(ctx, asks, z)
	}
	if fields := sizeFields(snap); len(fields) > 0 {
		pipe.HSet(ctx, sizes, fields)
	}
	pipe.HSet(ctx, bbo, bboFields(snap))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: mirror book %s: %w", snap.AssetID, err)
	}
	return nil
}

// GetBBO reads the mirrored best bid and ask. Empty strings mean an empty
// side.
func (m *BookMirror) GetBBO(ctx context.Context, assetID string) (string, string, error) {
	vals, err := m.c.rdb.HGetAll(ctx, m.c.key("book", assetID, "bbo")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", "", fmt.Errorf("redis: get bbo %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return "", "", fmt.Errorf("redis: bbo %s: %w", assetID, domain.ErrNotFound)
	}
	return vals["bid"], vals["ask"], nil
}

func levelMembers(levels []domain.PriceLevel) []redis.Z {
	out := make([]redis.Z, 0, len(levels))
	for _, l := range levels {
		out = append(out, redis.Z{Score: l.Price.InexactFloat64(), Member: l.Price.String()})
	}
	return out
}

func sizeFields(snap domain.BookSnapshot) map[string]any {
	fields := make(map[string]any, len(snap.Bids)+len(snap.Asks))
	for _, l := range snap.Bids {
		fields["bid:"+l.Price.String()] = l.Size.String()
	}
	for _, l := range snap.Asks {
		fields["ask:"+l.Price.String()] = l.Size.String()
	}
	return fields
}

func bboFields(snap domain.BookSnapshot) map[string]any {
	fields := map[string]any{
		"seq": strconv.FormatUint(snap.Seq, 10),
		"ts":  strconv.FormatInt(snap.Timestamp.UnixMilli(), 10),
		"bid": "",
		"ask": "",
	}
	if p, ok := snap.BestBid(); ok {
		fields["bid"] = p.String()
	}
	if p, ok := snap.BestAsk(); ok {
		fields["ask"] = p.String()
	}
	return fields
}

var _ domain.BookMirror = (*BookMirror)(nil)
