// Package notify delivers operator alerts to chat channels without ever
// blocking the trading path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event names an alert type. Operators can restrict delivery to a subset.
type Event string

const (
	EventStartup             Event = "startup"
	EventOpportunityDetected Event = "opportunity_detected"
	EventTradeEntered        Event = "trade_entered"
	EventExecutionError      Event = "execution_error"
	EventDailySummary        Event = "daily_summary"
	EventShutdown            Event = "shutdown"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type message struct {
	event Event
	title string
	body  string
}

// Notifier queues alerts and delivers them from a single goroutine. A full
// queue drops the alert.
type Notifier struct {
	senders     []Sender
	events      map[Event]bool
	queue       chan message
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewNotifier creates a notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, queueSize int, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[Event(e)] = true
		}
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		queue:       make(chan message, queueSize),
		sendTimeout: 10 * time.Second,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Fire enqueues an alert and returns immediately.
func (n *Notifier) Fire(event Event, title, body string) {
	if !n.Enabled() {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	select {
	case n.queue <- message{event: event, title: title, body: body}:
	default:
		n.logger.Warn("notify: queue full, dropping alert", slog.String("event", string(event)))
	}
}

// Run delivers queued alerts until ctx is done, then flushes what is left
// with a short deadline.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush()
			return ctx.Err()
		case m := <-n.queue:
			n.deliver(ctx, m)
		}
	}
}

func (n *Notifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()
	for {
		select {
		case m := <-n.queue:
			n.deliver(ctx, m)
		default:
			return
		}
	}
}

// deliver sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) deliver(ctx context.Context, m message) {
	ctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, m.title, m.body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		n.logger.Error("notify: delivery failed",
			slog.String("event", string(m.event)),
			slog.String("error", err.Error()),
		)
	}
}
