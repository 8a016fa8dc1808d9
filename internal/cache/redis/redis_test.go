package redis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func lvl(p, s string) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.RequireFromString(p), Size: decimal.RequireFromString(s)}
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "polyarb:book:a:bbo", (&Client{prefix: "polyarb"}).key("book", "a", "bbo"))
	assert.Equal(t, "lock:x", (&Client{}).key("lock", "x"))
}

func TestSnapshotEncoding(t *testing.T) {
	snap := domain.BookSnapshot{
		AssetID:   "up",
		Bids:      []domain.PriceLevel{lvl("0.48", "30"), lvl("0.47", "5")},
		Asks:      []domain.PriceLevel{lvl("0.52", "25")},
		Seq:       7,
		Timestamp: time.UnixMilli(1700000000123),
	}

	members := levelMembers(snap.Bids)
	assert.Equal(t, "0.48", members[0].Member)
	assert.InDelta(t, 0.48, members[0].Score, 1e-12)

	sizes := sizeFields(snap)
	assert.Equal(t, "30", sizes["bid:0.48"])
	assert.Equal(t, "25", sizes["ask:0.52"])

	bbo := bboFields(snap)
	assert.Equal(t, "0.48", bbo["bid"])
	assert.Equal(t, "0.52", bbo["ask"])
	assert.Equal(t, "7", bbo["seq"])
	assert.Equal(t, "1700000000123", bbo["ts"])

	empty := bboFields(domain.BookSnapshot{AssetID: "x"})
	assert.Equal(t, "", empty["bid"])
}

func TestWindowID(t *testing.T) {
	at := time.Unix(100, 0)
	assert.Equal(t, windowID(at, time.Minute), windowID(at.Add(10*time.Second), time.Minute))
	assert.NotEqual(t, windowID(at, time.Minute), windowID(at.Add(time.Minute), time.Minute))
}
