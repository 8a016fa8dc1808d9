package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// PriceSource returns a reference price and the time it was observed.
type PriceSource interface {
	Name() string
	Price(ctx context.Context) (decimal.Decimal, time.Time, error)
}

// FeedConfig tunes caching and staleness. MaxStaleness only bounds
// LastKnown; Quote never serves a cached value older than CacheTTL.
type FeedConfig struct {
	CacheTTL     time.Duration
	MaxStaleness time.Duration
	CallTimeout  time.Duration
}

type observation struct {
	price  decimal.Decimal
	source string
	at     time.Time
}

// Feed combines a primary and a backup source, caches the last observation
// briefly, and tracks the interval baseline.
type Feed struct {
	primary PriceSource
	backup  PriceSource
	cfg     FeedConfig
	logger  *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	last          *observation
	baseline      decimal.Decimal
	hasBaseline   bool
	intervalStart time.Time
}

// NewFeed creates a feed. backup may be nil.
func NewFeed(primary, backup PriceSource, cfg FeedConfig, logger *slog.Logger) *Feed {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 3 * time.Second
	}
	return &Feed{
		primary: primary,
		backup:  backup,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "oracle")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ResetBaseline forgets the current baseline. The first price observed at or
// after start becomes the new one.
func (f *Feed) ResetBaseline(start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervalStart = start
	f.hasBaseline = false
	f.baseline = decimal.Zero
	f.logger.Info("oracle: baseline reset", slog.Time("interval_start", start))
}

// Baseline returns the current interval baseline, if captured.
func (f *Feed) Baseline() (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseline, f.hasBaseline
}

// Quote returns the current reference price with the interval baseline.
// It returns ErrReferenceUnavailable when no source answers.
func (f *Feed) Quote(ctx context.Context) (domain.ReferenceQuote, error) {
	obs, err := f.observe(ctx)
	if err != nil {
		return domain.ReferenceQuote{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasBaseline && !obs.at.Before(f.intervalStart) {
		f.baseline = obs.price
		f.hasBaseline = true
		f.logger.Info("oracle: baseline captured",
			slog.String("price", obs.price.String()),
			slog.String("source", obs.source),
		)
	}
	if !f.hasBaseline {
		return domain.ReferenceQuote{}, fmt.Errorf("oracle: no baseline for interval %s: %w",
			f.intervalStart.Format(time.RFC3339), domain.ErrReferenceUnavailable)
	}
	return domain.ReferenceQuote{
		Price:    obs.price,
		Baseline: f.baseline,
		Source:   obs.source,
		At:       obs.at,
	}, nil
}

func (f *Feed) observe(ctx context.Context) (observation, error) {
	f.mu.Lock()
	if f.last != nil && f.now().Sub(f.last.at) < f.cfg.CacheTTL {
		obs := *f.last
		f.mu.Unlock()
		return obs, nil
	}
	f.mu.Unlock()

	var errs []error
	for _, src := range []PriceSource{f.primary, f.backup} {
		if src == nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, f.cfg.CallTimeout)
		price, _, err := src.Price(callCtx)
		cancel()
		if err != nil {
			f.logger.Warn("oracle: source failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		// Observation time is when we saw the price; the aggregator's own
		// round time can lag by its heartbeat.
		obs := observation{price: price, source: src.Name(), at: f.now()}
		f.mu.Lock()
		f.last = &obs
		f.mu.Unlock()
		return obs, nil
	}

	return observation{}, fmt.Errorf("oracle: %w: %w", domain.ErrReferenceUnavailable, errors.Join(errs...))
}

// LastKnown returns the most recent observation without querying any source,
// for display. The quote is marked Stale once it is older than CacheTTL and
// is not returned at all past MaxStaleness. It must not feed detection.
func (f *Feed) LastKnown() (domain.ReferenceQuote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return domain.ReferenceQuote{}, false
	}
	age := f.now().Sub(f.last.at)
	if f.cfg.MaxStaleness > 0 && age > f.cfg.MaxStaleness {
		return domain.ReferenceQuote{}, false
	}
	q := domain.ReferenceQuote{
		Price:  f.last.price,
		Source: f.last.source,
		At:     f.last.at,
		Stale:  age >= f.cfg.CacheTTL,
	}
	if f.hasBaseline {
		q.Baseline = f.baseline
	}
	return q, true
}
