package models

import "time"

// WizardSession is the server-held state of one campaign wizard
type WizardSession struct {
	ID             string            `json:"id"`
	Draft          CampaignDraft     `json:"draft"`
	Step           int               `json:"step"`
	Stats          *MemberStats      `json:"stats,omitempty"`
	StatsFetchedAt *time.Time        `json:"stats_fetched_at,omitempty"`
	StatsError     string            `json:"stats_error,omitempty"`
	LastKnownCount int               `json:"last_known_count"`
	State          SubmissionState   `json:"state"`
	Result         *SubmissionResult `json:"result,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// IsLocked reports whether the draft can no longer be edited
func (s *WizardSession) IsLocked() bool {
	return s.State == SubmissionSubmitting || s.State == SubmissionSucceeded
}
