package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// PositionSource lists journaled positions.
type PositionSource interface {
	LoadAll(ctx context.Context) ([]domain.Position, error)
}

// ExecutionSource lists executions started inside a time range.
type ExecutionSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionResult, error)
}

// Archiver uploads one JSONL file per record type for each finished UTC
// day. Records are never deleted from their primary store.
type Archiver struct {
	writer     domain.BlobWriter
	positions  PositionSource
	executions ExecutionSource
	audit      domain.AuditStore
	logger     *slog.Logger
	now        func() time.Time
}

// NewArchiver creates an Archiver. executions and audit may be nil.
func NewArchiver(w domain.BlobWriter, positions PositionSource, executions ExecutionSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:     w,
		positions:  positions,
		executions: executions,
		audit:      audit,
		logger:     logger.With(slog.String("component", "archiver")),
		now:        time.Now,
	}
}

// DayPrefix returns archive/YYYY/MM/DD for the UTC day containing t.
func DayPrefix(t time.Time) string {
	return "archive/" + t.UTC().Format("2006/01/02")
}

// ArchiveDay uploads positions.jsonl and executions.jsonl for day and
// returns how many records were written.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	prefix := DayPrefix(from)

	all, err := a.positions.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: load positions: %w", err)
	}
	var positions []domain.Position
	for _, p := range all {
		if !p.EntryTime.Before(from) && p.EntryTime.Before(to) {
			positions = append(positions, p)
		}
	}
	if err := a.upload(ctx, prefix+"/positions.jsonl", positions); err != nil {
		return 0, err
	}
	total := len(positions)

	if a.executions != nil {
		execs, err := a.executions.ListBetween(ctx, from, to)
		if err != nil {
			return total, fmt.Errorf("s3blob: list executions: %w", err)
		}
		if err := a.upload(ctx, prefix+"/executions.jsonl", execs); err != nil {
			return total, err
		}
		total += len(execs)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive", map[string]any{
			"day":     from.Format(time.DateOnly),
			"prefix":  prefix,
			"records": total,
		}); err != nil {
			a.logger.Warn("archiver: audit log failed", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("archiver: day archived",
		slog.String("prefix", prefix),
		slog.Int("records", total),
	)
	return total, nil
}

// Run archives the previous day each time the UTC date changes. It checks
// every interval and returns when ctx is done.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := a.now().UTC()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := a.now().UTC()
			if !sameDay(now, last) {
				if _, err := a.ArchiveDay(ctx, last); err != nil {
					a.logger.Error("archiver: archive failed",
						slog.String("day", last.Format(time.DateOnly)),
						slog.String("error", err.Error()),
					)
				}
			}
			last = now
		}
	}
}

func (a *Archiver) upload(ctx context.Context, path string, records any) error {
	body, err := encodeJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", path, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), jsonlContentType); err != nil {
		return err
	}
	return nil
}

// encodeJSONL writes one JSON document per element of a slice.
func encodeJSONL(records any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	switch rs := records.(type) {
	case []domain.Position:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
	case []domain.ExecutionResult:
		for _, r := range rs {
			if err := enc.Encode(executionRecord{ExecutionResult: r, Error: r.ErrorString()}); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported record type %T", records)
	}
	return buf.Bytes(), nil
}

// executionRecord carries the failure text, which ExecutionResult hides
// from JSON.
type executionRecord struct {
	domain.ExecutionResult
	Error string `json:"error,omitempty"`
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
