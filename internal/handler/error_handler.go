package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// handleError maps service errors to HTTP responses
func handleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		status := mapErrorCodeToHTTPStatus(appErr.Code)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("code", appErr.Code),
				slog.String("error", err.Error()),
			)
		}
		// Backend failures carry the raw cause as a suffix
		message := appErr.Message
		if status == http.StatusBadGateway {
			message = appErr.Error()
		}
		respondJSON(w, status, ErrorResponse{
			Error: ErrorDetail{
				Code:       appErr.Code,
				Message:    message,
				CampaignID: appErr.CampaignID,
			},
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, models.CodeNotFound, err.Error())

	case errors.Is(err, models.ErrConflict):
		respondError(w, http.StatusConflict, models.CodeConflict, err.Error())

	default:
		// Log internal errors but don't expose details to client
		logger.Error("internal server error",
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

// mapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func mapErrorCodeToHTTPStatus(code string) int {
	switch code {
	case models.CodeInvalidInput:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeConflict:
		return http.StatusConflict
	case models.CodeSubmissionFailed, models.CodeResolutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
