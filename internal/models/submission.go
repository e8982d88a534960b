package models

import "time"

// SubmissionState is the orchestrator's position in Idle -> Submitting -> terminal
type SubmissionState string

// Submission state constants
const (
	SubmissionIdle            SubmissionState = "idle"
	SubmissionSubmitting      SubmissionState = "submitting"
	SubmissionSucceeded       SubmissionState = "succeeded"
	SubmissionPartiallyFailed SubmissionState = "partially_failed"
	SubmissionFailed          SubmissionState = "failed"
)

// IsTerminal reports whether no further transition happens without user action
func (s SubmissionState) IsTerminal() bool {
	return s == SubmissionSucceeded || s == SubmissionPartiallyFailed || s == SubmissionFailed
}

// IsValidSubmissionState checks if the state is known
func IsValidSubmissionState(s string) bool {
	switch SubmissionState(s) {
	case SubmissionIdle, SubmissionSubmitting, SubmissionSucceeded, SubmissionPartiallyFailed, SubmissionFailed:
		return true
	default:
		return false
	}
}

// SubmissionKind tags the variant of a SubmissionResult
type SubmissionKind string

// Submission result variants
const (
	SubmissionCreated              SubmissionKind = "created"
	SubmissionCreatedAndSent       SubmissionKind = "created_and_sent"
	SubmissionCreatedAndScheduled  SubmissionKind = "created_and_scheduled"
	SubmissionCreatedButSendFailed SubmissionKind = "created_but_send_failed"
)

// SubmissionResult is the single outcome of a submission that reached the backend
type SubmissionResult struct {
	Kind        SubmissionKind `json:"kind"`
	CampaignID  string         `json:"campaign_id"`
	Error       string         `json:"error,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

// State maps the result variant onto the orchestrator's terminal state
func (r SubmissionResult) State() SubmissionState {
	if r.Kind == SubmissionCreatedButSendFailed {
		return SubmissionPartiallyFailed
	}
	return SubmissionSucceeded
}

// SubmissionEvent is published on the submission queue for every terminal outcome
type SubmissionEvent struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id,omitempty"`
	CampaignID   string          `json:"campaign_id,omitempty"`
	CampaignName string          `json:"campaign_name"`
	Kind         SubmissionKind  `json:"kind,omitempty"`
	State        SubmissionState `json:"state"`
	Error        string          `json:"error,omitempty"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`

	// Attempts counts failed ledger writes for this event
	Attempts int `json:"attempts,omitempty"`
}

// LedgerEntry is a recorded SubmissionEvent
type LedgerEntry struct {
	ID         int64           `json:"id"`
	Event      SubmissionEvent `json:"event"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// LedgerFilter holds filtering options for listing ledger entries
type LedgerFilter struct {
	State    string
	Page     int
	PageSize int
}
