package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Raymond9734/congregation-console/internal/models"
	"github.com/Raymond9734/congregation-console/internal/service"
	"github.com/Raymond9734/congregation-console/internal/wizard"
)

// WizardHandler handles campaign wizard HTTP requests
type WizardHandler struct {
	sessions  service.SessionService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewWizardHandler creates a new wizard handler
func NewWizardHandler(sessions service.SessionService, logger *slog.Logger) *WizardHandler {
	return &WizardHandler{
		sessions:  sessions,
		validator: validator.New(),
		logger:    logger,
	}
}

// SessionResponse is a wizard session plus the navigation state the console renders
type SessionResponse struct {
	*models.WizardSession
	StepName   string       `json:"step_name"`
	CanAdvance bool         `json:"can_advance"`
	Warning    *ErrorDetail `json:"warning,omitempty"`
}

func newSessionResponse(sess *models.WizardSession) SessionResponse {
	step := wizard.ClampStep(sess.Step)
	resp := SessionResponse{
		WizardSession: sess,
		StepName:      step.String(),
		CanAdvance:    step != wizard.LastStep && wizard.CanAdvance(sess.Draft, step),
	}
	if sess.State == models.SubmissionPartiallyFailed && sess.Result != nil {
		partial := models.ErrSubmissionPartial(sess.Result.CampaignID, nil).(*models.AppError)
		resp.Warning = &ErrorDetail{
			Code:       partial.Code,
			Message:    sess.Result.Error,
			CampaignID: partial.CampaignID,
		}
	}
	return resp
}

// Start handles POST /api/console/wizard
func (h *WizardHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := decodeJSON(r, h.validator, &req, true); err != nil {
		respondDecodeError(w, err)
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	sess, err := h.sessions.Start(r.Context(), patch)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondCreated(w, newSessionResponse(sess))
}

// Get handles GET /api/console/wizard/{id}
func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// UpdateDraft handles PATCH /api/console/wizard/{id}/draft
func (h *WizardHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := decodeJSON(r, h.validator, &req, false); err != nil {
		respondDecodeError(w, err)
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	sess, err := h.sessions.UpdateDraft(r.Context(), chi.URLParam(r, "id"), patch)
	h.respondSession(w, sess, err)
}

// Advance handles POST /api/console/wizard/{id}/advance
func (h *WizardHandler) Advance(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Advance(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// Retreat handles POST /api/console/wizard/{id}/retreat
func (h *WizardHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Retreat(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// RefreshStats handles POST /api/console/wizard/{id}/refresh-stats
func (h *WizardHandler) RefreshStats(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.RefreshStats(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// Preview handles GET /api/console/wizard/{id}/preview
func (h *WizardHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.sessions.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, preview)
}

// Submit handles POST /api/console/wizard/{id}/submit. A partial failure is a 200 with a
// warning; a total failure is a 502.
func (h *WizardHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Submit(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// SaveDraft handles POST /api/console/wizard/{id}/save-draft
func (h *WizardHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.SaveDraft(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// Retry handles POST /api/console/wizard/{id}/retry
func (h *WizardHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.RetryDispatch(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err)
}

// Cancel handles DELETE /api/console/wizard/{id}
func (h *WizardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandler) respondSession(w http.ResponseWriter, sess *models.WizardSession, err error) {
	var appErr *models.AppError
	if sess != nil && errors.As(err, &appErr) && appErr.Code == models.CodeSessionNotSaved {
		// The backend outcome is final; show it even though the session was not stored.
		h.logger.Error("submission outcome not saved",
			slog.String("session_id", sess.ID),
			slog.String("campaign_id", appErr.CampaignID),
			slog.String("error", err.Error()),
		)
		resp := newSessionResponse(sess)
		resp.Warning = &ErrorDetail{
			Code:       appErr.Code,
			Message:    appErr.Message,
			CampaignID: appErr.CampaignID,
		}
		respondSuccess(w, resp)
		return
	}
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	respondSuccess(w, newSessionResponse(sess))
}
