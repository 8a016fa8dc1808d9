package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionJournal durably appends positions so the ledger survives restarts.
type PositionJournal interface {
	Append(ctx context.Context, pos Position) error
	LoadAll(ctx context.Context) ([]Position, error)
}

// ExecutionStore persists execution results and their legs.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]ExecutionResult, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
