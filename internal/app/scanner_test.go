package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testMarket = domain.Market{ID: "m1", UpTokenID: "up", DownTokenID: "down"}

type fakeMarkets struct {
	market domain.Market
	ok     bool
	ready  bool
}

func (f fakeMarkets) Current() (domain.Market, bool) { return f.market, f.ok }
func (f fakeMarkets) Ready() bool                    { return f.ready }

type fakeBooks struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeBooks) Paired(marketID, upID, downID string) domain.PairedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, marketID+"/"+upID+"/"+downID)
	return domain.PairedSnapshot{MarketID: marketID}
}

func (f *fakeBooks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeQuotes struct {
	quote domain.ReferenceQuote
	err   error
}

func (f fakeQuotes) Quote(context.Context) (domain.ReferenceQuote, error) { return f.quote, f.err }

type fakeDetector struct {
	opps []domain.Opportunity
	ref  *domain.ReferenceQuote
}

func (f *fakeDetector) Scan(_ domain.PairedSnapshot, ref *domain.ReferenceQuote, _ decimal.Decimal) []domain.Opportunity {
	f.ref = ref
	return f.opps
}

type fakeGate struct{ err error }

func (f fakeGate) Allow() error { return f.err }

type recordedAlert struct {
	event notify.Event
	title string
	body  string
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (f *fakeAlerts) Fire(event notify.Event, title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, recordedAlert{event, title, body})
}

func (f *fakeAlerts) events() []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, a := range f.alerts {
		out = append(out, a.event)
	}
	return out
}

type published struct {
	topic, key string
	payload    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, key, payload})
	return f.err
}

func opportunity(id string) domain.Opportunity {
	return domain.Opportunity{
		ID:             id,
		Kind:           domain.KindSumToOne,
		MarketID:       "m1",
		ProfitFraction: d("0.05"),
		ExpectedProfit: d("0.5"),
		TotalCost:      d("9.5"),
		Legs: []domain.OpportunityLeg{
			{Outcome: domain.OutcomeUp, AssetID: "up", Price: d("0.45"), Size: d("10")},
			{Outcome: domain.OutcomeDown, AssetID: "down", Price: d("0.5"), Size: d("10")},
		},
		DetectedAt: time.Now(),
	}
}

type scannerFixture struct {
	markets  fakeMarkets
	books    *fakeBooks
	quotes   fakeQuotes
	detector *fakeDetector
	gate     fakeGate
	pub      *fakePublisher
	alerts   *fakeAlerts
	out      chan domain.Opportunity
}

func newFixture() *scannerFixture {
	return &scannerFixture{
		markets:  fakeMarkets{market: testMarket, ok: true, ready: true},
		books:    &fakeBooks{},
		quotes:   fakeQuotes{quote: domain.ReferenceQuote{Price: d("100000"), Baseline: d("99900"), Source: "chainlink"}},
		detector: &fakeDetector{},
		pub:      &fakePublisher{},
		alerts:   &fakeAlerts{},
		out:      make(chan domain.Opportunity, 1),
	}
}

func (f *scannerFixture) scanner(cfg ScannerConfig) *Scanner {
	return NewScanner(cfg, f.markets, f.books, f.quotes, f.detector, f.gate, f.pub, f.alerts, f.out, discard())
}

func TestScanOnce_SendsBestAndPublishesAll(t *testing.T) {
	f := newFixture()
	f.detector.opps = []domain.Opportunity{opportunity("best"), opportunity("second")}

	opps, err := f.scanner(ScannerConfig{Budget: d("10")}).ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, opps, 2)

	select {
	case got := <-f.out:
		assert.Equal(t, "best", got.ID)
	default:
		t.Fatal("best opportunity not queued")
	}
	require.NotNil(t, f.detector.ref)
	assert.True(t, f.detector.ref.Baseline.Equal(d("99900")))
	assert.Equal(t, []string{"m1/up/down"}, f.books.calls)

	require.Len(t, f.pub.msgs, 2)
	assert.Equal(t, topicOpportunities, f.pub.msgs[0].topic)
	assert.Equal(t, "m1", f.pub.msgs[0].key)
	assert.Contains(t, string(f.pub.msgs[0].payload), `"type":"opportunity"`)
	assert.Equal(t, []notify.Event{notify.EventOpportunityDetected}, f.alerts.events())
}

func TestScanOnce_Skips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *scannerFixture)
	}{
		{"no market", func(f *scannerFixture) { f.markets.ok = false }},
		{"settling", func(f *scannerFixture) { f.markets.ready = false }},
		{"reference unavailable", func(f *scannerFixture) { f.quotes.err = domain.ErrReferenceUnavailable }},
		{"reference stale", func(f *scannerFixture) { f.quotes.quote.Stale = true }},
		{"kill switch", func(f *scannerFixture) { f.gate.err = domain.ErrKillSwitch }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.detector.opps = []domain.Opportunity{opportunity("o")}
			tt.setup(f)

			opps, err := f.scanner(ScannerConfig{}).ScanOnce(context.Background())
			assert.ErrorIs(t, err, errSkipped)
			assert.Empty(t, opps)
			assert.Empty(t, f.out)
			assert.Nil(t, f.detector.ref)
		})
	}
}

func TestScanOnce_NothingFound(t *testing.T) {
	f := newFixture()
	opps, err := f.scanner(ScannerConfig{}).ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
	assert.Empty(t, f.pub.msgs)
	assert.Empty(t, f.alerts.events())
}

func TestScanOnce_BusyExecutorDropsOpportunity(t *testing.T) {
	f := newFixture()
	f.out <- opportunity("queued")
	f.detector.opps = []domain.Opportunity{opportunity("new")}

	_, err := f.scanner(ScannerConfig{}).ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", (<-f.out).ID)
}

func TestScanOnce_ScanOnlyMode(t *testing.T) {
	f := newFixture()
	f.detector.opps = []domain.Opportunity{opportunity("o")}
	s := NewScanner(ScannerConfig{}, f.markets, f.books, f.quotes, f.detector, nil, nil, nil, nil, discard())

	opps, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, opps, 1)
}

func TestScanOnce_PublishErrorIsNotFatal(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("bus down")
	f.detector.opps = []domain.Opportunity{opportunity("o")}

	_, err := f.scanner(ScannerConfig{}).ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.out, 1)
}

// blockingPublisher hangs until the publish context ends.
type blockingPublisher struct {
	queued func() int
	mu     sync.Mutex
	seen   []int
}

func (b *blockingPublisher) Publish(ctx context.Context, _, _ string, _ []byte) error {
	b.mu.Lock()
	b.seen = append(b.seen, b.queued())
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestScanOnce_SlowBusDoesNotDelayExecutor(t *testing.T) {
	f := newFixture()
	f.detector.opps = []domain.Opportunity{opportunity("best"), opportunity("second")}
	bus := &blockingPublisher{queued: func() int { return len(f.out) }}
	s := NewScanner(ScannerConfig{PublishTimeout: 30 * time.Millisecond},
		f.markets, f.books, f.quotes, f.detector, f.gate, bus, f.alerts, f.out, discard())

	start := time.Now()
	opps, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, opps, 2)
	assert.Less(t, time.Since(start), time.Second)

	bus.mu.Lock()
	assert.Equal(t, []int{1, 1}, bus.seen)
	bus.mu.Unlock()
	assert.Equal(t, "best", (<-f.out).ID)
}

func TestScannerRun_DebouncesPokes(t *testing.T) {
	f := newFixture()
	s := f.scanner(ScannerConfig{Interval: time.Hour, Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for range 10 {
		s.Poke("up")
	}
	require.Eventually(t, func() bool { return f.books.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, f.books.count())

	s.Poke("down")
	require.Eventually(t, func() bool { return f.books.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScannerRun_Ticks(t *testing.T) {
	f := newFixture()
	s := f.scanner(ScannerConfig{Interval: 10 * time.Millisecond, Debounce: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.books.count() >= 3 }, time.Second, 5*time.Millisecond)
}
