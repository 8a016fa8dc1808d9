package handler

import (
	"net/http"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// BookReader returns the live snapshot of one instrument.
type BookReader interface {
	Snapshot(assetID string) (domain.BookSnapshot, bool)
}

// BookHandler serves GET /api/book?asset=.
type BookHandler struct {
	books BookReader
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(books BookReader) *BookHandler {
	return &BookHandler{books: books}
}

type bookResponse struct {
	domain.BookSnapshot
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
}

// GetBook returns the full snapshot with its best bid and ask.
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}
	snap, ok := h.books.Snapshot(asset)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown asset")
		return
	}
	resp := bookResponse{BookSnapshot: snap}
	if p, ok := snap.BestBid(); ok {
		resp.BestBid = p.String()
	}
	if p, ok := snap.BestAsk(); ok {
		resp.BestAsk = p.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
