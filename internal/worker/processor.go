package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/models"
	"github.com/Raymond9734/congregation-console/internal/repository"
)

// Requeuer puts an event back on the queue
type Requeuer interface {
	Publish(ctx context.Context, event *models.SubmissionEvent) error
}

// LedgerProcessor records submission events in the ledger
type LedgerProcessor struct {
	repo       repository.SubmissionRepository
	requeue    Requeuer
	maxRetries int
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewLedgerProcessor creates a new ledger processor. requeue may be nil, in which case a
// failed write is dropped after logging.
func NewLedgerProcessor(
	repo repository.SubmissionRepository,
	requeue Requeuer,
	maxRetries int,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *LedgerProcessor {
	return &LedgerProcessor{
		repo:       repo,
		requeue:    requeue,
		maxRetries: maxRetries,
		metrics:    recorder,
		logger:     logger,
	}
}

// Process handles a single submission event
func (p *LedgerProcessor) Process(ctx context.Context, event *models.SubmissionEvent) error {
	if event.ID == "" {
		p.metrics.LedgerEvent("invalid")
		p.logger.Error("submission event has no id",
			slog.String("session_id", event.SessionID),
		)
		return models.ErrInvalidInput("submission event has no id")
	}

	inserted, err := p.repo.Record(ctx, event)
	if err != nil {
		p.logger.Warn("failed to record submission",
			slog.String("event_id", event.ID),
			slog.Int("attempts", event.Attempts),
			slog.String("error", err.Error()),
		)
		return p.handleFailure(ctx, event, err)
	}

	if !inserted {
		p.metrics.LedgerEvent("duplicate")
		p.logger.Info("submission already recorded",
			slog.String("event_id", event.ID),
		)
		return nil
	}

	p.metrics.LedgerEvent("recorded")
	p.logger.Info("submission recorded",
		slog.String("event_id", event.ID),
		slog.String("campaign_id", event.CampaignID),
		slog.String("state", string(event.State)),
	)

	if event.State == models.SubmissionPartiallyFailed {
		p.logger.Warn("campaign left in draft after partial failure",
			slog.String("campaign_id", event.CampaignID),
			slog.String("campaign_name", event.CampaignName),
		)
	}
	return nil
}

// handleFailure requeues the event until maxRetries writes have failed
func (p *LedgerProcessor) handleFailure(ctx context.Context, event *models.SubmissionEvent, writeErr error) error {
	attempts := event.Attempts + 1

	if p.requeue == nil || attempts >= p.maxRetries {
		p.metrics.LedgerEvent("dropped")
		p.logger.Error("submission event dropped after max retries",
			slog.String("event_id", event.ID),
			slog.Int("attempts", attempts),
			slog.Int("max_retries", p.maxRetries),
		)
		return fmt.Errorf("max retries exceeded: %w", writeErr)
	}

	retry := *event
	retry.Attempts = attempts
	if err := p.requeue.Publish(ctx, &retry); err != nil {
		p.metrics.LedgerEvent("dropped")
		p.logger.Error("failed to requeue submission event",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
			slog.String("record_error", writeErr.Error()),
		)
		return fmt.Errorf("record failed: %w; failed to requeue event: %w", writeErr, err)
	}

	p.metrics.LedgerEvent("requeued")
	p.logger.Info("submission event will be retried",
		slog.String("event_id", event.ID),
		slog.Int("attempts", attempts),
		slog.Int("max_retries", p.maxRetries),
	)
	return fmt.Errorf("record failed, retry %d/%d: %w", attempts, p.maxRetries, writeErr)
}
