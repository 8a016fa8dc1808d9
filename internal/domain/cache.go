package domain

import (
	"context"
	"time"
)

// BookMirror publishes live book snapshots for external readers.
type BookMirror interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetBBO(ctx context.Context, assetID string) (bestBid, bestAsk string, err error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventPublisher fans out JSON events to a bus (Redis pub/sub, Kafka).
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}
