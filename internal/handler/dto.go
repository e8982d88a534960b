package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Raymond9734/congregation-console/internal/models"
	"github.com/Raymond9734/congregation-console/internal/wizard"
)

// maxRequestBody caps JSON request bodies
const maxRequestBody = 1 << 20

// DraftRequest is the body of POST /wizard and PATCH /wizard/{id}/draft. Absent fields
// are left unchanged.
type DraftRequest struct {
	Name           *string    `json:"name" validate:"omitempty,max=200"`
	Audience       *string    `json:"audience" validate:"omitempty,max=32"`
	CustomAudience []string   `json:"custom_audience" validate:"omitempty,max=10000,dive,max=64"`
	Body           *string    `json:"body" validate:"omitempty,max=20000"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
	ClearSchedule  bool       `json:"clear_schedule" validate:"excluded_with=ScheduledAt"`
}

// toPatch converts the request into a wizard patch
func (r *DraftRequest) toPatch() (wizard.Patch, error) {
	patch := wizard.Patch{
		Name:           r.Name,
		CustomAudience: r.CustomAudience,
		Body:           r.Body,
		ScheduledAt:    r.ScheduledAt,
		ClearSchedule:  r.ClearSchedule,
	}
	if r.Audience != nil {
		audience, err := models.ParseAudienceSelector(*r.Audience)
		if err != nil {
			return wizard.Patch{}, err
		}
		patch.Audience = &audience
	}
	return patch, nil
}

// decodeJSON reads and validates a request body. An empty body is allowed when
// allowEmpty is set.
func decodeJSON(r *http.Request, v *validator.Validate, dst interface{}, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return models.ErrInvalidInput("invalid JSON format")
	}

	if err := v.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &validationError{fields: validationMessages(validationErrors)}
		}
		return models.ErrInvalidInput(err.Error())
	}
	return nil
}

// validationError lists field-level failures from the validator
type validationError struct {
	fields []string
}

func (e *validationError) Error() string {
	return "validation failed: " + strings.Join(e.fields, "; ")
}

func validationMessages(errs validator.ValidationErrors) []string {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "excluded_with":
			messages = append(messages, fmt.Sprintf("%s cannot be combined with %s", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return messages
}

// respondDecodeError writes a 400 for a decode or validation failure
func respondDecodeError(w http.ResponseWriter, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    models.CodeInvalidInput,
				Message: "validation failed",
				Details: verr.fields,
			},
		})
		return
	}

	message := err.Error()
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	respondError(w, http.StatusBadRequest, models.CodeInvalidInput, message)
}
