package models

import "time"

// Campaign status constants, as reported by the backend
const (
	CampaignStatusDraft     = "DRAFT"
	CampaignStatusScheduled = "SCHEDULED"
	CampaignStatusSending   = "SENDING"
	CampaignStatusSent      = "SENT"
	CampaignStatusFailed    = "FAILED"
)

// Campaign represents an SMS outreach record on the backend
type Campaign struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Body           string           `json:"body"`
	Audience       AudienceSelector `json:"audience"`
	CustomAudience []string         `json:"custom_audience,omitempty"`
	Status         string           `json:"status"`
	ScheduledAt    *time.Time       `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// CampaignListResult represents a page of backend campaigns
type CampaignListResult struct {
	Data       []*Campaign      `json:"data"`
	Pagination PaginationResult `json:"pagination"`
}
