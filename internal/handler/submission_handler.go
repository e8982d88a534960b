package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// LedgerReader reads recorded submissions
type LedgerReader interface {
	GetByEventID(ctx context.Context, eventID string) (*models.LedgerEntry, error)
	List(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerEntry, int64, error)
}

// SubmissionHandler handles submission ledger HTTP requests
type SubmissionHandler struct {
	ledger LedgerReader
	logger *slog.Logger
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(ledger LedgerReader, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		ledger: ledger,
		logger: logger,
	}
}

// SubmissionListResponse is a page of ledger entries
type SubmissionListResponse struct {
	Data       []*models.LedgerEntry   `json:"data"`
	Pagination models.PaginationResult `json:"pagination"`
}

// ListSubmissions handles GET /api/console/submissions
func (h *SubmissionHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	models.ValidateAndSetDefaults(&page, &pageSize)

	state := query.Get("state")
	if state != "" && !models.IsValidSubmissionState(state) {
		respondError(w, http.StatusBadRequest, models.CodeInvalidInput, "invalid state: "+state)
		return
	}

	entries, total, err := h.ledger.List(r.Context(), models.LedgerFilter{
		State:    state,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, SubmissionListResponse{
		Data:       entries,
		Pagination: models.NewPaginationResult(page, pageSize, total),
	})
}

// GetSubmission handles GET /api/console/submissions/{event_id}
func (h *SubmissionHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	entry, err := h.ledger.GetByEventID(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, entry)
}
