package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memSender struct {
	mu    sync.Mutex
	got   []string
	err   error
	block chan struct{}
}

func (m *memSender) Send(_ context.Context, title, _ string) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, title)
	return m.err
}

func (m *memSender) Name() string { return "mem" }

func (m *memSender) titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.got...)
}

func TestNotifierFiltersAndDelivers(t *testing.T) {
	ok := &memSender{}
	failing := &memSender{err: errors.New("boom")}
	n := NewNotifier([]Sender{failing, ok}, []string{"trade_entered", " startup "}, 8, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = n.Run(ctx); close(done) }()

	n.Fire(EventStartup, "up", "")
	n.Fire(EventOpportunityDetected, "filtered", "")
	n.Fire(EventTradeEntered, "entered", "")

	require.Eventually(t, func() bool { return len(ok.titles()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []string{"up", "entered"}, ok.titles())
	assert.Len(t, failing.titles(), 2)
}

func TestNotifierFireNeverBlocks(t *testing.T) {
	s := &memSender{block: make(chan struct{})}
	n := NewNotifier([]Sender{s}, nil, 1, discard())

	start := time.Now()
	for i := 0; i < 100; i++ {
		n.Fire(EventOpportunityDetected, "x", "")
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Len(t, n.queue, 1)
	close(s.block)
}

func TestNotifierDisabled(t *testing.T) {
	n := NewNotifier(nil, nil, 1, discard())
	assert.False(t, n.Enabled())
	n.Fire(EventStartup, "x", "")
	assert.Empty(t, n.queue)
}

func TestTelegramSender(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	require.NoError(t, NewTelegramSender(srv.URL, "TOKEN", "42").Send(context.Background(), "Title", "msg"))
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "*Title*\nmsg", body["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["content"] == "**bad**\n" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	assert.NoError(t, d.Send(context.Background(), "ok", ""))
	assert.ErrorContains(t, d.Send(context.Background(), "bad", ""), "unexpected status 400")
}
