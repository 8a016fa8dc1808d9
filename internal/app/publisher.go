package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
)

// Event topics.
const (
	topicOpportunities = "opportunities"
	topicExecutions    = "executions"
	topicMarkets       = "markets"
)

// fanout sends each event to every configured bus. One failing bus does
// not stop the others.
type fanout []domain.EventPublisher

func (f fanout) Publish(ctx context.Context, topic, key string, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// channelPublisher sends every topic to one pub/sub channel. Subscribers
// tell events apart by the envelope type.
type channelPublisher struct {
	bus     domain.EventPublisher
	channel string
}

func (c channelPublisher) Publish(ctx context.Context, _, key string, payload []byte) error {
	return c.bus.Publish(ctx, c.channel, key, payload)
}

// newPublisher returns nil when no bus is configured.
func newPublisher(pubs ...domain.EventPublisher) domain.EventPublisher {
	var out fanout
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// executionEvent is the published form of a finished execution.
type executionEvent struct {
	domain.ExecutionResult
	Error string `json:"error,omitempty"`
}

// resultSink persists, publishes and announces finished executions.
type resultSink struct {
	store     domain.ExecutionStore
	audit     domain.AuditStore
	publisher domain.EventPublisher
	alerts    Alerter
	timeout   time.Duration
	logger    *slog.Logger
}

func newResultSink(store domain.ExecutionStore, audit domain.AuditStore, publisher domain.EventPublisher, alerts Alerter, logger *slog.Logger) *resultSink {
	return &resultSink{
		store:     store,
		audit:     audit,
		publisher: publisher,
		alerts:    alerts,
		timeout:   5 * time.Second,
		logger:    logger.With(slog.String("component", "results")),
	}
}

// Handle matches executor.ResultHandler. It runs after the execution has
// finished, so it uses its own timeout rather than the caller's context,
// which may already be cancelled during shutdown.
func (s *resultSink) Handle(_ context.Context, opp domain.Opportunity, res domain.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// Nothing was sent to the exchange.
	if errors.Is(res.Err, domain.ErrDuplicate) || errors.Is(res.Err, domain.ErrLockHeld) {
		return
	}

	if s.store != nil {
		if err := s.store.Create(ctx, res); err != nil {
			s.logger.Error("results: store execution",
				slog.String("execution_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit != nil {
		detail := map[string]any{
			"execution_id":    res.ID,
			"opportunity_id":  opp.ID,
			"market_id":       res.MarketID,
			"kind":            string(res.Kind),
			"state":           string(res.State),
			"expected_profit": res.ExpectedProfit.String(),
		}
		if res.Err != nil {
			detail["error"] = res.Err.Error()
		}
		if err := s.audit.Log(ctx, "execution", detail); err != nil {
			s.logger.Warn("results: audit log", slog.String("error", err.Error()))
		}
	}
	if s.publisher != nil {
		payload, err := json.Marshal(event{Type: "execution", Data: executionEvent{ExecutionResult: res, Error: res.ErrorString()}})
		if err == nil {
			err = s.publisher.Publish(ctx, topicExecutions, res.MarketID, payload)
		}
		if err != nil {
			s.logger.Warn("results: publish execution", slog.String("error", err.Error()))
		}
	}
	if s.alerts == nil {
		return
	}
	if res.State == domain.StateCommitted {
		s.alerts.Fire(notify.EventTradeEntered, "Trade entered", describeExecution(res))
		return
	}
	s.alerts.Fire(notify.EventExecutionError, "Execution "+string(res.State), describeExecution(res))
}

func describeExecution(res domain.ExecutionResult) string {
	body := fmt.Sprintf("%s %s on %s\nexpected profit %s USDC",
		res.Kind, res.State, res.MarketID, res.ExpectedProfit.StringFixed(4))
	for _, l := range res.Legs {
		body += fmt.Sprintf("\n%s %s @ %s: %s", l.Outcome, l.Size, l.Price, legStatus(l))
	}
	if res.Err != nil {
		body += "\nerror: " + res.Err.Error()
	}
	return body
}

func legStatus(l domain.LegOutcome) string {
	switch {
	case l.Filled:
		return "filled"
	case l.Canceled:
		return "canceled"
	case l.Accepted:
		return "open"
	case l.Error != "":
		return "rejected: " + l.Error
	}
	return "not submitted"
}
