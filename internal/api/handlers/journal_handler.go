package handlers

import (
	"context"
	"net/http"
	"time"

	"spotarb/internal/models"
)

const journalQueryTimeout = 5 * time.Second

// JournalReader - чтение журнала сделок и ордеров
type JournalReader interface {
	RecentDeals(ctx context.Context, limit int) ([]models.DealRecord, error)
	RecentOrders(ctx context.Context, limit int) ([]models.IntentRecord, error)
}

// JournalHandler - история из PostgreSQL.
// Без DATABASE_URL журнал выключен и endpoints отвечают 503.
type JournalHandler struct {
	journal JournalReader
}

func NewJournalHandler(journal JournalReader) *JournalHandler {
	return &JournalHandler{journal: journal}
}

// GetDeals - GET /api/v1/journal/deals?limit=N
func (h *JournalHandler) GetDeals(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.prepare(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), journalQueryTimeout)
	defer cancel()

	deals, err := h.journal.RecentDeals(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read deals", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deals)
}

// GetOrders - GET /api/v1/journal/orders?limit=N
func (h *JournalHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.prepare(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), journalQueryTimeout)
	defer cancel()

	orders, err := h.journal.RecentOrders(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read orders", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *JournalHandler) prepare(w http.ResponseWriter, r *http.Request) (int, bool) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "journal disabled", "set DATABASE_URL to enable")
		return 0, false
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid limit", r.URL.Query().Get("limit"))
		return 0, false
	}
	return limit, true
}
