package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/models"
	"github.com/Raymond9734/congregation-console/internal/wizard"
)

// CampaignGateway is the backend surface the orchestrator writes to
type CampaignGateway interface {
	CreateCampaign(ctx context.Context, draft models.CampaignDraft) (*models.Campaign, error)
	SendCampaign(ctx context.Context, id string) error
	ScheduleCampaign(ctx context.Context, id string, at time.Time) error
}

// SubmissionService turns a finished draft into backend calls: create, then send or
// schedule. Each call produces exactly one outcome.
type SubmissionService interface {
	CanSubmit(draft models.CampaignDraft) error
	Submit(ctx context.Context, draft models.CampaignDraft) (*models.SubmissionResult, error)
	SaveDraft(ctx context.Context, draft models.CampaignDraft) (*models.SubmissionResult, error)
	Dispatch(ctx context.Context, campaignID string, scheduledAt *time.Time) (*models.SubmissionResult, error)
}

type submissionService struct {
	gateway CampaignGateway
	now     func() time.Time
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewSubmissionService creates a new submission service. now may be nil.
func NewSubmissionService(gateway CampaignGateway, now func() time.Time, recorder *metrics.Recorder, logger *slog.Logger) SubmissionService {
	if now == nil {
		now = time.Now
	}
	return &submissionService{
		gateway: gateway,
		now:     now,
		metrics: recorder,
		logger:  logger,
	}
}

// CanSubmit re-validates every step, not just the current one, and checks the schedule
// against the clock at call time.
func (s *submissionService) CanSubmit(draft models.CampaignDraft) error {
	return wizard.ValidateForSubmission(draft, s.now())
}

// Submit creates the campaign and then sends or schedules it.
//
// A create failure, or a created record without an id, returns a SUBMISSION_FAILED error
// and nothing is dispatched; create is never retried because it is not idempotent. A
// send/schedule failure after a successful create returns a CreatedButSendFailed result
// carrying the campaign id, so a retry can target the existing campaign.
func (s *submissionService) Submit(ctx context.Context, draft models.CampaignDraft) (*models.SubmissionResult, error) {
	if err := s.CanSubmit(draft); err != nil {
		return nil, err
	}

	campaign, err := s.create(ctx, draft)
	if err != nil {
		return nil, err
	}

	result := s.dispatch(ctx, campaign.ID, draft.ScheduledAt)
	s.record(result, draft.Name)
	return result, nil
}

// SaveDraft creates the campaign without dispatching it
func (s *submissionService) SaveDraft(ctx context.Context, draft models.CampaignDraft) (*models.SubmissionResult, error) {
	if err := wizard.ValidateForSubmission(draft, s.now()); err != nil {
		return nil, err
	}

	campaign, err := s.create(ctx, draft)
	if err != nil {
		return nil, err
	}

	result := &models.SubmissionResult{
		Kind:       models.SubmissionCreated,
		CampaignID: campaign.ID,
	}
	s.record(result, draft.Name)
	return result, nil
}

// Dispatch sends or schedules a campaign that already exists on the backend. It is the
// retry path after a partial failure and never creates a campaign.
func (s *submissionService) Dispatch(ctx context.Context, campaignID string, scheduledAt *time.Time) (*models.SubmissionResult, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, models.ErrInvalidInput("campaign id is required")
	}
	if scheduledAt != nil && !scheduledAt.After(s.now()) {
		return nil, models.ErrInvalidInput("scheduled time must be in the future")
	}

	result := s.dispatch(ctx, campaignID, scheduledAt)
	s.record(result, "")
	return result, nil
}

func (s *submissionService) create(ctx context.Context, draft models.CampaignDraft) (*models.Campaign, error) {
	campaign, err := s.gateway.CreateCampaign(ctx, draft)
	if err != nil {
		s.logger.Error("failed to create campaign",
			slog.String("name", draft.Name),
			slog.String("error", err.Error()),
		)
		s.metrics.SubmissionOutcome(string(models.SubmissionFailed), "create_failed")
		return nil, models.ErrSubmissionFailed("campaign could not be created", err)
	}

	if campaign == nil || strings.TrimSpace(campaign.ID) == "" {
		s.logger.Error("created campaign has no usable id",
			slog.String("name", draft.Name),
		)
		s.metrics.SubmissionOutcome(string(models.SubmissionFailed), "missing_id")
		return nil, models.ErrSubmissionFailed("campaign was created without a usable id; check the campaign list before retrying", models.ErrMissingID)
	}

	s.logger.Info("campaign created",
		slog.String("campaign_id", campaign.ID),
		slog.String("name", draft.Name),
		slog.String("audience", string(draft.Audience)),
	)
	return campaign, nil
}

// dispatch makes exactly one send or schedule call
func (s *submissionService) dispatch(ctx context.Context, campaignID string, scheduledAt *time.Time) *models.SubmissionResult {
	var (
		err    error
		kind   models.SubmissionKind
		action string
	)
	if scheduledAt != nil {
		action = "schedule"
		kind = models.SubmissionCreatedAndScheduled
		err = s.gateway.ScheduleCampaign(ctx, campaignID, *scheduledAt)
	} else {
		action = "send"
		kind = models.SubmissionCreatedAndSent
		err = s.gateway.SendCampaign(ctx, campaignID)
	}

	if err != nil {
		s.logger.Error("campaign created but not dispatched",
			slog.String("campaign_id", campaignID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		return &models.SubmissionResult{
			Kind:        models.SubmissionCreatedButSendFailed,
			CampaignID:  campaignID,
			Error:       partialFailureMessage(campaignID, action, err),
			ScheduledAt: scheduledAt,
		}
	}

	s.logger.Info("campaign dispatched",
		slog.String("campaign_id", campaignID),
		slog.String("action", action),
	)
	return &models.SubmissionResult{
		Kind:        kind,
		CampaignID:  campaignID,
		ScheduledAt: scheduledAt,
	}
}

func (s *submissionService) record(result *models.SubmissionResult, name string) {
	s.metrics.SubmissionOutcome(string(result.State()), string(result.Kind))
	if result.Kind == models.SubmissionCreatedButSendFailed {
		s.logger.Warn("submission partially failed",
			slog.String("campaign_id", result.CampaignID),
			slog.String("name", name),
		)
	}
}

func partialFailureMessage(campaignID, action string, err error) string {
	return fmt.Sprintf(
		"The campaign was saved (id %s) but could not be %s. It is still a draft; retry from this screen to %s it without creating a duplicate. Details: %v",
		campaignID, pastTense(action), action, err,
	)
}

func pastTense(action string) string {
	if action == "send" {
		return "sent"
	}
	return action + "d"
}
