package models

import (
	"fmt"
	"strings"
	"time"
)

// MaxBodyLength is the SMS segment budget for an unrendered message body, in characters.
const MaxBodyLength = 1600

// AudienceSelector names the subset of members a campaign targets
type AudienceSelector string

// Audience selector constants
const (
	AudienceAll          AudienceSelector = "ALL"
	AudienceEligible     AudienceSelector = "ELIGIBLE"
	AudienceDelinquent30 AudienceSelector = "DELINQUENT_30"
	AudienceDelinquent60 AudienceSelector = "DELINQUENT_60"
	AudienceDelinquent90 AudienceSelector = "DELINQUENT_90"
	AudienceCustom       AudienceSelector = "CUSTOM"
)

// AudienceSelectors lists every selector in display order
var AudienceSelectors = []AudienceSelector{
	AudienceAll,
	AudienceEligible,
	AudienceDelinquent30,
	AudienceDelinquent60,
	AudienceDelinquent90,
	AudienceCustom,
}

// IsValid reports whether a is one of the known selectors
func (a AudienceSelector) IsValid() bool {
	for _, known := range AudienceSelectors {
		if a == known {
			return true
		}
	}
	return false
}

// IsDelinquent reports whether a targets one of the delinquency buckets
func (a AudienceSelector) IsDelinquent() bool {
	return a == AudienceDelinquent30 || a == AudienceDelinquent60 || a == AudienceDelinquent90
}

// ParseAudienceSelector converts user input into a selector, ignoring case and surrounding space
func ParseAudienceSelector(s string) (AudienceSelector, error) {
	a := AudienceSelector(strings.ToUpper(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", ErrInvalidInput(fmt.Sprintf("invalid audience: %s", s))
	}
	return a, nil
}

// CampaignDraft is the wizard's in-progress campaign. It is never persisted on the backend
// until submission.
type CampaignDraft struct {
	Name           string           `json:"name"`
	Audience       AudienceSelector `json:"audience"`
	CustomAudience []string         `json:"custom_audience"`
	Body           string           `json:"body"`
	ScheduledAt    *time.Time       `json:"scheduled_at,omitempty"`
}

// NewCampaignDraft returns an empty draft targeting all members
func NewCampaignDraft() CampaignDraft {
	return CampaignDraft{
		Audience:       AudienceAll,
		CustomAudience: []string{},
	}
}

// Clone returns a deep copy so the caller can hand the draft off by value
func (d CampaignDraft) Clone() CampaignDraft {
	out := d
	out.CustomAudience = append([]string(nil), d.CustomAudience...)
	if out.CustomAudience == nil {
		out.CustomAudience = []string{}
	}
	if d.ScheduledAt != nil {
		at := *d.ScheduledAt
		out.ScheduledAt = &at
	}
	return out
}

// IsScheduled reports whether the draft defers sending
func (d CampaignDraft) IsScheduled() bool {
	return d.ScheduledAt != nil
}
