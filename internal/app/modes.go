package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/book"
	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/feed"
	"github.com/alanyoungcy/polyarb/internal/ledger"
	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/oracle"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
	"github.com/alanyoungcy/polyarb/internal/risk"
	"github.com/alanyoungcy/polyarb/internal/server"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
)

// TradeMode executes against the live CLOB. It fails when no signing key
// is configured or L2 credentials cannot be derived.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting trade mode")
	gw, err := a.liveGateway(ctx)
	if err != nil {
		return fmt.Errorf("app: trade mode: %w", err)
	}
	return a.run(ctx, deps, gw)
}

// PaperMode executes against the simulated gateway.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting paper mode")
	return a.run(ctx, deps, executor.NewPaperGateway(a.cfg.Execution.PaperFillDelay.Duration, a.logger))
}

// ScanMode detects, publishes and notifies but never places orders.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting scan mode")
	return a.run(ctx, deps, nil)
}

// liveGateway resolves the wallet key, derives L2 credentials when none are
// configured, and returns the CLOB order gateway.
func (a *App) liveGateway(ctx context.Context) (*polymarket.Gateway, error) {
	w, pm := a.cfg.Wallet, a.cfg.Polymarket

	keys := crypto.KeySource{RawPrivateKey: w.PrivateKey, KeyFile: w.KeyFile, KeyPassword: w.KeyPassword}
	signer, err := keys.Signer(pm.ChainID)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	creds := crypto.Credentials{Key: pm.APIKey, Secret: pm.APISecret, Passphrase: pm.APIPassphrase}
	clob := polymarket.NewClobClient(pm.ClobHost, signer, creds, pm.RequestTimeout.Duration)
	if creds.Empty() {
		dctx, cancel := context.WithTimeout(ctx, pm.RequestTimeout.Duration)
		defer cancel()
		if _, err := clob.DeriveAPIKey(dctx); err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		a.logger.Info("app: derived clob api credentials", slog.String("address", signer.Address().Hex()))
	}

	gcfg := polymarket.DefaultGatewayConfig()
	gcfg.Funder = w.Funder
	gcfg.SignatureType = w.SignatureType
	gcfg.PricePrecision = a.cfg.Arbitrage.PricePrecision
	gcfg.SizePrecision = a.cfg.Arbitrage.SizePrecision
	return polymarket.NewGateway(clob, gcfg, a.logger), nil
}

// referenceFeed builds the Chainlink primary with the Binance backup.
func (a *App) referenceFeed() (*oracle.Feed, error) {
	r := a.cfg.Reference
	primary, err := oracle.NewChainlink(r.Aggregator, r.RPCs, nil, a.logger)
	if err != nil {
		return nil, err
	}
	var backup oracle.PriceSource
	if r.BinanceURL != "" {
		backup = oracle.NewBinance(r.BinanceURL, r.Symbol, r.BackupTimeout.Duration)
	}
	return oracle.NewFeed(primary, backup, oracle.FeedConfig{
		CacheTTL:     r.CacheTTL.Duration,
		MaxStaleness: r.MaxStaleness.Duration,
		CallTimeout:  r.CallTimeout.Duration,
	}, a.logger), nil
}

// detector builds the configured checks.
func (a *App) detector() (*arbitrage.Detector, error) {
	c := a.cfg.Arbitrage
	params := arbitrage.DefaultParams()
	params.MinProfit = c.MinProfit.Decimal
	params.MaxSlippage = c.MaxSlippage.Decimal
	params.TakerFee = c.TakerFee.Decimal
	params.MakerFee = c.MakerFee.Decimal
	params.MispricingCeiling = c.MispricingCeiling.Decimal
	params.PricePrecision = c.PricePrecision
	params.SizePrecision = c.SizePrecision
	if err := params.Validate(); err != nil {
		return nil, err
	}
	checks, err := arbitrage.DefaultRegistry(params).Select(c.Checks)
	if err != nil {
		return nil, err
	}
	return arbitrage.NewDetector(checks, a.logger), nil
}

// run starts every component and blocks until one fails or ctx is done. A
// nil gateway means scan-only.
func (a *App) run(ctx context.Context, deps *Dependencies, gateway executor.OrderGateway) error {
	cfg := a.cfg
	logger := a.logger

	positions := ledger.New(deps.Journal, logger)
	if deps.Journal != nil {
		n, err := positions.Restore(ctx)
		if err != nil {
			return fmt.Errorf("app: restore positions: %w", err)
		}
		logger.Info("app: positions restored", slog.Int("count", n))
	}

	guard := risk.NewGuard(risk.Config{
		DailyLossLimit: cfg.Risk.DailyLossLimit.Decimal,
		MaxTradeAmount: cfg.Risk.MaxTradeAmount.Decimal,
		MaxOpenLegs:    cfg.Risk.MaxOpenLegs,
	}, logger)

	quotes, err := a.referenceFeed()
	if err != nil {
		return fmt.Errorf("app: reference feed: %w", err)
	}
	detector, err := a.detector()
	if err != nil {
		return fmt.Errorf("app: detector: %w", err)
	}

	books := book.NewStore(logger)
	wsFeed := feed.NewPolymarketWSFeed(cfg.Polymarket.WSHost, cfg.Polymarket.FeedBuffer, logger)
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.RequestTimeout.Duration)
	rotator := market.NewRotator(market.Config{
		SlugPrefix:    cfg.Market.SlugPrefix,
		Interval:      cfg.Market.Interval.Duration,
		PollInterval:  cfg.Market.PollInterval.Duration,
		SettleDelay:   cfg.Market.SettleDelay.Duration,
		LookupTimeout: cfg.Market.LookupTimeout.Duration,
	}, gamma, wsFeed, books, quotes, logger)
	rotator.OnRotate(func(m domain.Market) { a.publishMarket(ctx, deps.Publisher, m) })

	var oppCh chan domain.Opportunity
	if gateway != nil {
		oppCh = make(chan domain.Opportunity, cfg.Execution.QueueSize)
	}
	scanner := NewScanner(ScannerConfig{
		Interval:     cfg.Arbitrage.ScanInterval.Duration,
		Debounce:     cfg.Arbitrage.Debounce.Duration,
		QuoteTimeout: cfg.Reference.CallTimeout.Duration,
		Budget:       cfg.Arbitrage.Budget.Decimal,
	}, rotator, books, quotes, detector, guard, deps.Publisher, deps.Notifier, oppCh, logger)

	// The notifier outlives the other components so the shutdown alert
	// is still delivered.
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		_ = deps.Notifier.Run(notifyCtx)
	}()
	defer func() {
		stopNotify()
		<-notifyDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsFeed.Run(gctx) })
	g.Go(func() error { return books.Run(gctx, wsFeed.Updates(), scanner.Poke) })
	g.Go(func() error { return rotator.Run(gctx) })
	g.Go(func() error { return scanner.Run(gctx) })

	if gateway != nil {
		coord := executor.NewCoordinator(gateway, positions, deps.Locks, executor.Config{
			SubmitTimeout: cfg.Execution.SubmitTimeout.Duration,
			CancelTimeout: cfg.Execution.CancelTimeout.Duration,
			FillTimeout:   cfg.Execution.FillTimeout.Duration,
			PollInterval:  cfg.Execution.PollInterval.Duration,
			DedupTTL:      cfg.Execution.DedupTTL.Duration,
			LockTTL:       cfg.Execution.LockTTL.Duration,
			NegRisk:       cfg.Polymarket.NegRisk,
		}, logger)
		sink := newResultSink(deps.Executions, deps.Audit, deps.Publisher, deps.Notifier, logger)
		exec := executor.NewExecutor(oppCh, coord, guard, positions, sink.Handle, logger)
		g.Go(func() error { return exec.Run(gctx) })
	}

	if cfg.Server.Enabled {
		h := server.Handlers{
			Health:    handler.NewHealthHandler(deps.Health, logger),
			Status:    handler.NewStatusHandler(cfg.Mode, rotator, guard, quotes),
			Positions: handler.NewPositionHandler(positions),
			Book:      handler.NewBookHandler(books),
		}
		if deps.Executions != nil {
			h.Executions = handler.NewExecutionHandler(deps.Executions, logger)
		}
		srv := server.NewServer(server.Config{
			Addr:        cfg.Server.Addr,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateWindow:  cfg.Server.RateWindow.Duration,
		}, h, deps.Limiter, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx, time.Minute) })
	}
	if deps.Mirror != nil {
		g.Go(func() error { return mirrorBooks(gctx, deps.Mirror, rotator, books, time.Second, logger) })
	}
	g.Go(func() error {
		return dailySummary(gctx, time.Minute, time.Now, guard, positions, deps.Notifier)
	})

	deps.Notifier.Fire(notify.EventStartup, "polyarb started", "mode "+cfg.Mode)
	err = g.Wait()
	deps.Notifier.Fire(notify.EventShutdown, "polyarb stopped", shutdownReason(err))
	return err
}

func shutdownReason(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return "clean shutdown"
	}
	return "stopped on error: " + err.Error()
}

func (a *App) publishMarket(ctx context.Context, pub domain.EventPublisher, m domain.Market) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(event{Type: "market", Data: m})
	if err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pub.Publish(pctx, topicMarkets, m.ID, payload); err != nil {
		a.logger.Warn("app: publish market", slog.String("error", err.Error()))
	}
}

// mirrorBooks copies both outcome books of the current market to the
// mirror every interval.
func mirrorBooks(ctx context.Context, mirror domain.BookMirror, markets MarketState, books handler.BookReader, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m, ok := markets.Current()
			if !ok {
				continue
			}
			for _, id := range m.TokenIDs() {
				snap, ok := books.Snapshot(id)
				if !ok {
					continue
				}
				if err := mirror.SetSnapshot(ctx, snap); err != nil {
					logger.Debug("app: mirror book", slog.String("asset_id", id), slog.String("error", err.Error()))
				}
			}
		}
	}
}

// pnlSource is the kill switch's view of today's P&L.
type pnlSource interface {
	DailyPnL() decimal.Decimal
}

// positionSource lists every position held.
type positionSource interface {
	All() []domain.Position
}

// dailySummary sends a daily_summary alert for each UTC day that ends
// while it runs.
func dailySummary(ctx context.Context, interval time.Duration, now func() time.Time, pnl pnlSource, positions positionSource, alerts Alerter) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	day := now().UTC()
	last := pnl.DailyPnL()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t := now().UTC()
			if t.YearDay() != day.YearDay() || t.Year() != day.Year() {
				alerts.Fire(notify.EventDailySummary, "Daily summary "+day.Format(time.DateOnly),
					summarize(day, last, positions.All()))
				day = t
			}
			last = pnl.DailyPnL()
		}
	}
}

// summarize reports the day's booked P&L and the positions opened that day.
func summarize(day time.Time, pnl decimal.Decimal, positions []domain.Position) string {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	opened, cost := 0, decimal.Zero
	for _, p := range positions {
		if p.EntryTime.Before(from) || !p.EntryTime.Before(to) {
			continue
		}
		opened++
		cost = cost.Add(p.Cost)
	}
	return fmt.Sprintf("booked P&L %s USDC\npositions opened %d (cost %s USDC)\npositions held %d",
		pnl.StringFixed(4), opened, cost.StringFixed(4), len(positions))
}
