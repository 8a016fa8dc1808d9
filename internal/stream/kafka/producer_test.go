package kafka

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func TestNewProducerNeedsBrokers(t *testing.T) {
	_, err := NewProducer(Config{})
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestMessage(t *testing.T) {
	p, err := NewProducer(Config{Brokers: []string{"localhost:9092"}, TopicPrefix: "polyarb."})
	require.NoError(t, err)
	defer p.Close()

	msg := p.message("executions", "exec-1", []byte(`{"id":"exec-1"}`))
	assert.Equal(t, "polyarb.executions", msg.Topic)
	assert.Equal(t, []byte("exec-1"), msg.Key)
	assert.JSONEq(t, `{"id":"exec-1"}`, string(msg.Value))
	assert.False(t, msg.Time.IsZero())
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "opportunities", topicName("", "opportunities"))
	assert.Equal(t, "arb.opportunities", topicName("arb", "opportunities"))
}
