package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
)

// MarketState reports the active market and whether it may be scanned.
type MarketState interface {
	Current() (domain.Market, bool)
	Ready() bool
}

// PairedSource takes a consistent snapshot of both outcome books.
type PairedSource interface {
	Paired(marketID, upID, downID string) domain.PairedSnapshot
}

// QuoteSource returns the reference price and interval baseline.
type QuoteSource interface {
	Quote(ctx context.Context) (domain.ReferenceQuote, error)
}

// Detector finds opportunities in one snapshot.
type Detector interface {
	Scan(snap domain.PairedSnapshot, ref *domain.ReferenceQuote, budget decimal.Decimal) []domain.Opportunity
}

// Gate reports whether trading is currently allowed.
type Gate interface {
	Allow() error
}

// Alerter is the notification side channel.
type Alerter interface {
	Fire(event notify.Event, title, body string)
}

// ScannerConfig times the scan loop.
type ScannerConfig struct {
	Interval       time.Duration
	Debounce       time.Duration
	QuoteTimeout   time.Duration
	PublishTimeout time.Duration
	Budget         decimal.Decimal
	EventTopic     string
}

// Scanner runs detection on a timer and shortly after book activity, and
// hands the best opportunity to the executor.
type Scanner struct {
	cfg       ScannerConfig
	markets   MarketState
	books     PairedSource
	quotes    QuoteSource
	detector  Detector
	gate      Gate
	publisher domain.EventPublisher
	alerts    Alerter
	out       chan<- domain.Opportunity
	trigger   chan struct{}
	logger    *slog.Logger
}

// NewScanner creates a Scanner. out is nil in scan-only mode; gate,
// publisher and alerts may be nil.
func NewScanner(
	cfg ScannerConfig,
	markets MarketState,
	books PairedSource,
	quotes QuoteSource,
	detector Detector,
	gate Gate,
	publisher domain.EventPublisher,
	alerts Alerter,
	out chan<- domain.Opportunity,
	logger *slog.Logger,
) *Scanner {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 3 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = time.Second
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = topicOpportunities
	}
	return &Scanner{
		cfg:       cfg,
		markets:   markets,
		books:     books,
		quotes:    quotes,
		detector:  detector,
		gate:      gate,
		publisher: publisher,
		alerts:    alerts,
		out:       out,
		trigger:   make(chan struct{}, 1),
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Poke requests a scan soon. It never blocks; pokes during the debounce
// window collapse into one scan.
func (s *Scanner) Poke(string) {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run scans every Interval and Debounce after each Poke until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scan(ctx)
		case <-s.trigger:
			if debounce == nil {
				debounce = time.After(s.cfg.Debounce)
			}
		case <-debounce:
			debounce = nil
			select {
			case <-s.trigger:
			default:
			}
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	if _, err := s.ScanOnce(ctx); err != nil && !errors.Is(err, errSkipped) {
		s.logger.Warn("scanner: scan failed", slog.String("error", err.Error()))
	}
}

var errSkipped = errors.New("scan skipped")

// ScanOnce runs one detection cycle and returns what it found. A cycle is
// skipped while no market is ready, while the kill switch is tripped, or
// when the reference price is unavailable.
func (s *Scanner) ScanOnce(ctx context.Context) ([]domain.Opportunity, error) {
	m, ok := s.markets.Current()
	if !ok || !s.markets.Ready() {
		return nil, errSkipped
	}

	snap := s.books.Paired(m.ID, m.UpTokenID, m.DownTokenID)

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	quote, err := s.quotes.Quote(qctx)
	cancel()
	if err != nil {
		s.logger.Debug("scanner: reference unavailable, skipping cycle", slog.String("error", err.Error()))
		return nil, errSkipped
	}
	if quote.Stale {
		s.logger.Debug("scanner: reference stale, skipping cycle", slog.Time("observed_at", quote.At))
		return nil, errSkipped
	}

	if s.gate != nil {
		if err := s.gate.Allow(); err != nil {
			s.logger.Debug("scanner: trading halted", slog.String("error", err.Error()))
			return nil, errSkipped
		}
	}

	opps := s.detector.Scan(snap, &quote, s.cfg.Budget)
	if len(opps) == 0 {
		return nil, nil
	}

	best := opps[0]
	s.logger.Info("scanner: opportunity detected",
		slog.String("opportunity_id", best.ID),
		slog.String("kind", string(best.Kind)),
		slog.String("profit_fraction", best.ProfitFraction.StringFixed(4)),
		slog.String("expected_profit", best.ExpectedProfit.StringFixed(4)),
		slog.Int("found", len(opps)),
	)
	if s.out != nil {
		select {
		case s.out <- best:
		default:
			s.logger.Warn("scanner: executor busy, opportunity dropped", slog.String("opportunity_id", best.ID))
		}
	}

	for _, o := range opps {
		s.publish(ctx, o)
	}
	if s.alerts != nil {
		s.alerts.Fire(notify.EventOpportunityDetected, "Opportunity detected", describeOpportunity(best))
	}
	return opps, nil
}

func (s *Scanner) publish(ctx context.Context, opp domain.Opportunity) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event{Type: "opportunity", Data: opp})
	if err != nil {
		s.logger.Warn("scanner: encode opportunity", slog.String("error", err.Error()))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, s.cfg.EventTopic, opp.MarketID, payload); err != nil {
		s.logger.Warn("scanner: publish opportunity", slog.String("error", err.Error()))
	}
}

// event is the envelope for everything sent to the event bus.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func describeOpportunity(o domain.Opportunity) string {
	body := fmt.Sprintf("%s on %s\nprofit %s%% (expected %s USDC, cost %s)",
		o.Kind, o.MarketID,
		o.ProfitFraction.Mul(decimal.NewFromInt(100)).StringFixed(2),
		o.ExpectedProfit.StringFixed(4), o.TotalCost.StringFixed(4))
	for _, l := range o.Legs {
		body += fmt.Sprintf("\n%s %s @ %s", l.Outcome, l.Size, l.Price)
	}
	return body
}
