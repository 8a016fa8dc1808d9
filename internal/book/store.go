// Package book maintains the live order books of the instruments the bot is
// subscribed to.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

var maxPrice = decimal.NewFromInt(1)

// side is one sorted half of a book. Asks are kept ascending, bids
// descending, so index 0 is always the best price.
type side struct {
	levels []domain.PriceLevel
	desc   bool
}

// search returns the index where price sits or would be inserted.
func (s *side) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		c := s.levels[i].Price.Cmp(price)
		if s.desc {
			return c <= 0
		}
		return c >= 0
	})
	return i, i < len(s.levels) && s.levels[i].Price.Equal(price)
}

// set replaces the level at price and reports whether the side changed.
func (s *side) set(price, size decimal.Decimal) bool {
	i, found := s.search(price)
	if size.IsZero() {
		if !found {
			return false
		}
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
		return true
	}
	if found {
		if s.levels[i].Size.Equal(size) {
			return false
		}
		s.levels[i].Size = size
		return true
	}
	s.levels = append(s.levels, domain.PriceLevel{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = domain.PriceLevel{Price: price, Size: size}
	return true
}

func (s *side) copyOut() []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(s.levels))
	copy(out, s.levels)
	return out
}

type instrument struct {
	bids    side
	asks    side
	seq     uint64
	updated time.Time
}

func newInstrument() *instrument {
	return &instrument{bids: side{desc: true}}
}

func (in *instrument) sideFor(s domain.Side) *side {
	if s == domain.SideBid {
		return &in.bids
	}
	return &in.asks
}

func (in *instrument) snapshot(assetID string) domain.BookSnapshot {
	return domain.BookSnapshot{
		AssetID:   assetID,
		Bids:      in.bids.copyOut(),
		Asks:      in.asks.copyOut(),
		Seq:       in.seq,
		Timestamp: in.updated,
	}
}

// Store holds one book per instrument. A single goroutine applies updates
// (see Run); any number of readers take copy-out snapshots.
type Store struct {
	mu     sync.RWMutex
	books  map[string]*instrument
	logger *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		books:  make(map[string]*instrument),
		logger: logger.With(slog.String("component", "book")),
	}
}

func validateLevel(price, size decimal.Decimal) error {
	if !price.IsPositive() || price.GreaterThan(maxPrice) {
		return fmt.Errorf("%w: price %s outside (0,1]", domain.ErrMalformedUpdate, price)
	}
	if size.IsNegative() {
		return fmt.Errorf("%w: negative size %s", domain.ErrMalformedUpdate, size)
	}
	return nil
}

func validateUpdate(u domain.LevelUpdate) error {
	if u.AssetID == "" {
		return fmt.Errorf("%w: empty asset id", domain.ErrMalformedUpdate)
	}
	if u.Side != domain.SideBid && u.Side != domain.SideAsk {
		return fmt.Errorf("%w: unknown side %q", domain.ErrMalformedUpdate, u.Side)
	}
	return validateLevel(u.Price, u.Size)
}

// Apply upserts or deletes a single level. Seq only advances when the book
// changes, so applying the same update twice leaves the snapshot as after
// the first.
func (s *Store) Apply(u domain.LevelUpdate) error {
	if err := validateUpdate(u); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.books[u.AssetID]
	if in == nil {
		in = newInstrument()
		s.books[u.AssetID] = in
	}
	if in.sideFor(u.Side).set(u.Price, u.Size) {
		in.seq++
		in.updated = stamp(u.Timestamp)
	}
	return nil
}

// ApplyBook applies every level of one feed message as a single update.
// The whole message is validated before anything changes.
func (s *Store) ApplyBook(u domain.BookUpdate) error {
	if u.AssetID == "" {
		return fmt.Errorf("%w: empty asset id", domain.ErrMalformedUpdate)
	}
	for _, l := range u.Bids {
		if err := validateLevel(l.Price, l.Size); err != nil {
			return fmt.Errorf("bid: %w", err)
		}
	}
	for _, l := range u.Asks {
		if err := validateLevel(l.Price, l.Size); err != nil {
			return fmt.Errorf("ask: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.books[u.AssetID]
	changed := u.Replace
	if in == nil || u.Replace {
		in = newInstrument()
		if prev := s.books[u.AssetID]; prev != nil {
			in.seq = prev.seq
		}
		s.books[u.AssetID] = in
	}
	for _, l := range u.Bids {
		changed = in.bids.set(l.Price, l.Size) || changed
	}
	for _, l := range u.Asks {
		changed = in.asks.set(l.Price, l.Size) || changed
	}
	if changed {
		in.seq++
		in.updated = stamp(u.Timestamp)
	}
	return nil
}

// Snapshot returns a copy of one instrument's book.
func (s *Store) Snapshot(assetID string) (domain.BookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.books[assetID]
	if !ok {
		return domain.BookSnapshot{AssetID: assetID}, false
	}
	return in.snapshot(assetID), true
}

// Paired captures both outcome books under one read lock so neither can
// reflect an update the other does not.
func (s *Store) Paired(marketID, upID, downID string) domain.PairedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps := domain.PairedSnapshot{
		MarketID:   marketID,
		Up:         domain.BookSnapshot{AssetID: upID},
		Down:       domain.BookSnapshot{AssetID: downID},
		CapturedAt: time.Now().UTC(),
	}
	if in, ok := s.books[upID]; ok {
		ps.Up = in.snapshot(upID)
	}
	if in, ok := s.books[downID]; ok {
		ps.Down = in.snapshot(downID)
	}
	return ps
}

// Reset drops the books of the given instruments, or all books when called
// without arguments.
func (s *Store) Reset(assetIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(assetIDs) == 0 {
		s.books = make(map[string]*instrument)
		return
	}
	for _, id := range assetIDs {
		delete(s.books, id)
	}
}

// Assets lists the instruments that currently have a book.
func (s *Store) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.books))
	for id := range s.books {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Run consumes feed messages in arrival order until ctx is done or updates is
// closed. onApplied, if set, is called with the asset id after each applied
// message. Malformed messages are logged and skipped.
func (s *Store) Run(ctx context.Context, updates <-chan domain.BookUpdate, onApplied func(assetID string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := s.ApplyBook(u); err != nil {
				s.logger.Warn("book: dropped malformed update",
					slog.String("asset_id", u.AssetID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if onApplied != nil {
				onApplied(u.AssetID)
			}
		}
	}
}

func stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts
}
