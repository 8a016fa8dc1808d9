package pebble

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func pos(id string, at time.Time, size string) domain.Position {
	return domain.NewPosition(id, "m1", "tok-"+id, domain.OutcomeUp,
		decimal.RequireFromString(size), decimal.RequireFromString("0.48"), "o-"+id, at)
}

func TestJournalAppendLoadOrdered(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, pos("b", base.Add(time.Second), "5")))
	require.NoError(t, j.Append(ctx, pos("a", base, "10")))
	require.NoError(t, j.Append(ctx, pos("a", base, "10")))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()

	got, err := j.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.True(t, got[0].Cost.Equal(decimal.RequireFromString("4.8")))
	assert.True(t, got[0].EntryTime.Equal(base))
}

func TestJournalEmpty(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	got, err := j.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
