// Package pebble keeps a local, append-only position journal on disk.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	posPrefix = "pos/"
	idPrefix  = "posid/"
)

// Journal implements domain.PositionJournal on a pebble database.
//
// Key layout:
//
//	pos/{entry unix nanos, 20 digits}/{id}  JSON position
//	posid/{id}                              primary key of the entry
type Journal struct {
	db *pebble.DB
}

// Open opens or creates the journal in dir.
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append durably writes pos. A position id already present is ignored.
func (j *Journal) Append(_ context.Context, pos domain.Position) error {
	idKey := []byte(idPrefix + pos.ID)
	_, closer, err := j.db.Get(idKey)
	switch {
	case err == nil:
		closer.Close()
		return nil
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("pebble: lookup %s: %w", pos.ID, err)
	}

	val, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("pebble: encode %s: %w", pos.ID, err)
	}
	key := positionKey(pos)

	b := j.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val, nil); err != nil {
		return fmt.Errorf("pebble: stage %s: %w", pos.ID, err)
	}
	if err := b.Set(idKey, key, nil); err != nil {
		return fmt.Errorf("pebble: stage index %s: %w", pos.ID, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble: commit %s: %w", pos.ID, err)
	}
	return nil
}

// LoadAll returns every position in entry-time order.
func (j *Journal) LoadAll(_ context.Context) ([]domain.Position, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(posPrefix),
		UpperBound: []byte("pos0"),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: iterate: %w", err)
	}
	defer iter.Close()

	var out []domain.Position
	for iter.First(); iter.Valid(); iter.Next() {
		var p domain.Position
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("pebble: decode %s: %w", iter.Key(), err)
		}
		out = append(out, p)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble: iterate: %w", err)
	}
	return out, nil
}

func positionKey(p domain.Position) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", posPrefix, p.EntryTime.UnixNano(), p.ID))
}

var _ domain.PositionJournal = (*Journal)(nil)
