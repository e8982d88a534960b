package models

import (
	"errors"
	"fmt"
)

// Common error types
var (
	ErrNotFound  = errors.New("resource not found")
	ErrConflict  = errors.New("operation conflicts with current state")
	ErrMissingID = errors.New("backend record has no usable id")
)

// Error codes shared by services and the HTTP layer
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeResolutionFailed  = "RESOLUTION_FAILED"
	CodeSubmissionFailed  = "SUBMISSION_FAILED"
	CodeSubmissionPartial = "SUBMISSION_PARTIAL"
	CodeSessionNotSaved   = "SESSION_NOT_SAVED"
)

// AppError represents an application-level error with context
type AppError struct {
	Code    string
	Message string
	Err     error

	// CampaignID is set on submission errors once the campaign exists on the backend.
	CampaignID string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrInvalidInput creates a validation error
func ErrInvalidInput(message string) error {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// ErrNotFoundWithMsg creates a not found error with custom message
func ErrNotFoundWithMsg(message string) error {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
		Err:     ErrNotFound,
	}
}

// ErrConflictWithMsg creates a conflict error with custom message
func ErrConflictWithMsg(message string) error {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Err:     ErrConflict,
	}
}

// ErrResolution wraps a failed audience lookup. It is recoverable: the draft stays valid.
func ErrResolution(err error) error {
	return &AppError{
		Code:    CodeResolutionFailed,
		Message: "could not load recipients",
		Err:     err,
	}
}

// ErrSubmissionFailed reports a submission where nothing was created on the backend.
func ErrSubmissionFailed(message string, err error) error {
	return &AppError{
		Code:    CodeSubmissionFailed,
		Message: message,
		Err:     err,
	}
}

// ErrSubmissionPartial reports a campaign that was created but not sent or scheduled.
func ErrSubmissionPartial(campaignID string, err error) error {
	return &AppError{
		Code:       CodeSubmissionPartial,
		Message:    fmt.Sprintf("campaign %s was created but not dispatched", campaignID),
		Err:        err,
		CampaignID: campaignID,
	}
}

// ErrSessionNotSaved reports a submission whose backend outcome is known but could not be
// stored on the session. campaignID is empty when nothing was created.
func ErrSessionNotSaved(campaignID string, err error) error {
	message := "submission finished but the session could not be saved"
	if campaignID != "" {
		message = fmt.Sprintf("campaign %s was submitted but the session could not be saved", campaignID)
	}
	return &AppError{
		Code:       CodeSessionNotSaved,
		Message:    message,
		Err:        err,
		CampaignID: campaignID,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
