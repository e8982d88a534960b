package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Raymond9734/congregation-console/internal/models"
)

// DefaultSampleSize is how many rendered messages a preview shows
const DefaultSampleSize = 3

// RenderedSample is one member's rendered message
type RenderedSample struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name"`
	Message  string `json:"message"`
	Length   int    `json:"length"`
}

// Preview is the read-only summary shown before a campaign is committed
type Preview struct {
	Audience            models.AudienceSelector `json:"audience"`
	RecipientCount      int                     `json:"recipient_count"`
	CoarseAudience      bool                    `json:"coarse_audience"`
	AudienceNote        string                  `json:"audience_note,omitempty"`
	RatePerMessage      float64                 `json:"rate_per_message"`
	EstimatedCost       float64                 `json:"estimated_cost"`
	BodyLength          int                     `json:"body_length"`
	Samples             []RenderedSample        `json:"samples"`
	UnknownPlaceholders []string                `json:"unknown_placeholders,omitempty"`
	ResolutionError     string                  `json:"resolution_error,omitempty"`
}

// PreviewService composes previews from the audience resolver and the renderer
type PreviewService interface {
	Build(ctx context.Context, draft models.CampaignDraft, stats *models.MemberStats, lastKnownCount int) *Preview
}

type previewService struct {
	audience       AudienceService
	templates      TemplateService
	ratePerMessage float64
	sampleSize     int
}

// NewPreviewService creates a new preview service. ratePerMessage is a flat placeholder
// price, not a billing integration.
func NewPreviewService(audience AudienceService, templates TemplateService, ratePerMessage float64, sampleSize int) PreviewService {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &previewService{
		audience:       audience,
		templates:      templates,
		ratePerMessage: ratePerMessage,
		sampleSize:     sampleSize,
	}
}

// Build resolves recipients lazily and renders samples. A failed lookup is reported in
// ResolutionError and never returned as an error; the count then falls back to
// lastKnownCount when stats are unavailable.
func (s *previewService) Build(ctx context.Context, draft models.CampaignDraft, stats *models.MemberStats, lastKnownCount int) *Preview {
	count := s.audience.Count(draft.Audience, stats, draft.CustomAudience)
	if stats == nil && draft.Audience != models.AudienceCustom {
		count = lastKnownCount
	}

	preview := &Preview{
		Audience:            draft.Audience,
		RecipientCount:      count,
		CoarseAudience:      draft.Audience.IsDelinquent(),
		AudienceNote:        CoarseAudienceNote(draft.Audience, stats),
		RatePerMessage:      s.ratePerMessage,
		EstimatedCost:       EstimateCost(count, s.ratePerMessage),
		BodyLength:          utf8.RuneCountInString(draft.Body),
		Samples:             []RenderedSample{},
		UnknownPlaceholders: s.templates.UnknownPlaceholders(draft.Body),
	}

	members, err := s.audience.ResolveMembers(ctx, draft.Audience, draft.CustomAudience, s.sampleSize)
	if err != nil {
		preview.ResolutionError = err.Error()
		return preview
	}

	for _, member := range members {
		message := s.templates.Render(draft.Body, member)
		preview.Samples = append(preview.Samples, RenderedSample{
			MemberID: member.ID,
			Name:     strings.TrimSpace(member.FirstName + " " + member.LastName),
			Message:  message,
			Length:   utf8.RuneCountInString(message),
		})
	}
	return preview
}

// EstimateCost is count × rate
func EstimateCost(count int, ratePerMessage float64) float64 {
	return float64(count) * ratePerMessage
}
