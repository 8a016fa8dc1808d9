// Package market finds the current Up/Down interval market and rotates the
// feed, book and reference baseline when a new interval begins.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// IntervalStart returns the start of the interval containing t.
func IntervalStart(t time.Time, interval time.Duration) time.Time {
	return t.UTC().Truncate(interval)
}

// Slug names the market for the interval starting at start, e.g.
// "btc-updown-15m-1700000100".
func Slug(prefix string, start time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, start.Unix())
}

// Finder looks a market up by slug.
type Finder interface {
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
}

// Subscriber changes the live feed subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, assetIDs []string) error
	Unsubscribe(ctx context.Context, assetIDs []string) error
}

// BookResetter drops book state for instruments.
type BookResetter interface {
	Reset(assetIDs ...string)
}

// BaselineResetter restarts the reference baseline for a new interval.
type BaselineResetter interface {
	ResetBaseline(start time.Time)
}

// Config controls discovery timing.
type Config struct {
	SlugPrefix    string
	Interval      time.Duration
	PollInterval  time.Duration
	SettleDelay   time.Duration
	LookupTimeout time.Duration
}

// DefaultConfig is the 15-minute BTC market.
func DefaultConfig() Config {
	return Config{
		SlugPrefix:    "btc-updown-15m",
		Interval:      15 * time.Minute,
		PollInterval:  5 * time.Second,
		SettleDelay:   3 * time.Second,
		LookupTimeout: 10 * time.Second,
	}
}

// Rotator tracks the active market. The subscription set only changes
// here, and scans are held off for SettleDelay after each switch.
type Rotator struct {
	cfg      Config
	finder   Finder
	sub      Subscriber
	book     BookResetter
	baseline BaselineResetter
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	current  *domain.Market
	readyAt  time.Time
	onRotate func(domain.Market)
}

// NewRotator wires discovery to the feed, book and oracle. baseline may be
// nil.
func NewRotator(cfg Config, finder Finder, sub Subscriber, book BookResetter, baseline BaselineResetter, logger *slog.Logger) *Rotator {
	return &Rotator{
		cfg:      cfg,
		finder:   finder,
		sub:      sub,
		book:     book,
		baseline: baseline,
		logger:   logger.With(slog.String("component", "rotator")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnRotate registers a callback run after each switch.
func (r *Rotator) OnRotate(fn func(domain.Market)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRotate = fn
}

// Current returns the active market.
func (r *Rotator) Current() (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return domain.Market{}, false
	}
	return *r.current, true
}

// Ready reports whether the active market has settled and not yet ended.
func (r *Rotator) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return false
	}
	now := r.now()
	if now.Before(r.readyAt) {
		return false
	}
	return r.current.End.IsZero() || now.Before(r.current.End)
}

// Run checks for a new interval every PollInterval until ctx is done.
func (r *Rotator) Run(ctx context.Context) error {
	if err := r.Check(ctx); err != nil {
		r.logger.Warn("rotator: initial lookup failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Check(ctx); err != nil {
				r.logger.Debug("rotator: lookup failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Check looks up the market for the current interval and switches to it if
// it differs from the active one. A market not yet published is reported as
// ErrNotFound and retried on the next tick.
func (r *Rotator) Check(ctx context.Context) error {
	start := IntervalStart(r.now(), r.cfg.Interval)
	slug := Slug(r.cfg.SlugPrefix, start)

	if cur, ok := r.Current(); ok && cur.Slug == slug {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	m, err := r.finder.GetMarketBySlug(lookupCtx, slug)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("market: %s not listed yet: %w", slug, err)
		}
		return fmt.Errorf("market: lookup %s: %w", slug, err)
	}
	if m.Slug == "" {
		m.Slug = slug
	}
	if m.Start.IsZero() {
		m.Start = start
	}
	if m.End.IsZero() {
		m.End = start.Add(r.cfg.Interval)
	}
	return r.rotate(ctx, m)
}

func (r *Rotator) rotate(ctx context.Context, next domain.Market) error {
	prev, hadPrev := r.Current()

	if hadPrev {
		if err := r.sub.Unsubscribe(ctx, prev.TokenIDs()); err != nil {
			r.logger.Warn("rotator: unsubscribe failed", slog.String("error", err.Error()))
		}
		r.book.Reset(prev.TokenIDs()...)
	}
	if err := r.sub.Subscribe(ctx, next.TokenIDs()); err != nil {
		if hadPrev {
			// The old books are gone; nothing is scannable until the
			// next Check subscribes again.
			r.mu.Lock()
			r.current = nil
			r.mu.Unlock()
		}
		return fmt.Errorf("market: subscribe %s: %w", next.Slug, err)
	}
	if r.baseline != nil {
		r.baseline.ResetBaseline(next.Start)
	}

	r.mu.Lock()
	r.current = &next
	r.readyAt = r.now().Add(r.cfg.SettleDelay)
	onRotate := r.onRotate
	r.mu.Unlock()

	r.logger.Info("rotator: switched market",
		slog.String("slug", next.Slug),
		slog.String("previous", prev.Slug),
		slog.String("up_token", next.UpTokenID),
		slog.String("down_token", next.DownTokenID),
		slog.Time("end", next.End),
	)
	if onRotate != nil {
		onRotate(next)
	}
	return nil
}
