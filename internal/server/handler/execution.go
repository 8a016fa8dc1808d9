package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ExecutionLister lists recent execution results.
type ExecutionLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error)
}

// ExecutionHandler serves GET /api/executions/recent.
type ExecutionHandler struct {
	store  ExecutionLister
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(store ExecutionLister, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{store: store, logger: logger}
}

type executionView struct {
	domain.ExecutionResult
	Error string `json:"error,omitempty"`
}

// ListRecent returns up to ?limit= (default 20, max 200) executions,
// newest first.
func (h *ExecutionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20, 200)
	results, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	views := make([]executionView, 0, len(results))
	for _, res := range results {
		views = append(views, executionView{ExecutionResult: res, Error: res.ErrorString()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": views})
}
