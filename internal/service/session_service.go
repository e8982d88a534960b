package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Raymond9734/congregation-console/internal/models"
	"github.com/Raymond9734/congregation-console/internal/wizard"
)

// DefaultSubmitTimeout bounds a detached submission
const DefaultSubmitTimeout = 30 * time.Second

// finishTimeout bounds storing and reporting an outcome after the backend calls return
const finishTimeout = 5 * time.Second

const interruptedMessage = "the previous submission was interrupted before its outcome was saved; " +
	"check the campaign list before submitting again"

// SessionStore persists wizard sessions. Load returns models.ErrNotFound for unknown ids.
type SessionStore interface {
	Save(ctx context.Context, sess *models.WizardSession) error
	Load(ctx context.Context, id string) (*models.WizardSession, error)
	Delete(ctx context.Context, id string) error
}

// SubmitLocker serializes submissions per session. Held reports whether any submitter
// currently owns the session.
type SubmitLocker interface {
	Acquire(ctx context.Context, id string) (release func(context.Context) error, ok bool, err error)
	Held(ctx context.Context, id string) (bool, error)
}

// EventPublisher hands submission outcomes to the ledger queue
type EventPublisher interface {
	Publish(ctx context.Context, event *models.SubmissionEvent) error
}

// SessionService hosts wizard sessions between HTTP requests
type SessionService interface {
	Start(ctx context.Context, initial wizard.Patch) (*models.WizardSession, error)
	Get(ctx context.Context, id string) (*models.WizardSession, error)
	UpdateDraft(ctx context.Context, id string, patch wizard.Patch) (*models.WizardSession, error)
	Advance(ctx context.Context, id string) (*models.WizardSession, error)
	Retreat(ctx context.Context, id string) (*models.WizardSession, error)
	RefreshStats(ctx context.Context, id string) (*models.WizardSession, error)
	Preview(ctx context.Context, id string) (*Preview, error)
	Submit(ctx context.Context, id string) (*models.WizardSession, error)
	SaveDraft(ctx context.Context, id string) (*models.WizardSession, error)
	RetryDispatch(ctx context.Context, id string) (*models.WizardSession, error)
	Cancel(ctx context.Context, id string) error
}

// SessionDeps wires a SessionService. Publisher and Campaigns may be nil.
type SessionDeps struct {
	Store         SessionStore
	Locker        SubmitLocker
	Audience      AudienceService
	Previews      PreviewService
	Submissions   SubmissionService
	Campaigns     CampaignListService
	Publisher     EventPublisher
	Now           func() time.Time
	NewID         func() string
	SubmitTimeout time.Duration
	Logger        *slog.Logger
}

type sessionService struct {
	store         SessionStore
	locker        SubmitLocker
	audience      AudienceService
	previews      PreviewService
	submissions   SubmissionService
	campaigns     CampaignListService
	publisher     EventPublisher
	now           func() time.Time
	newID         func() string
	submitTimeout time.Duration
	logger        *slog.Logger
}

// NewSessionService creates a new session service
func NewSessionService(deps SessionDeps) SessionService {
	s := &sessionService{
		store:         deps.Store,
		locker:        deps.Locker,
		audience:      deps.Audience,
		previews:      deps.Previews,
		submissions:   deps.Submissions,
		campaigns:     deps.Campaigns,
		publisher:     deps.Publisher,
		now:           deps.Now,
		newID:         deps.NewID,
		submitTimeout: deps.SubmitTimeout,
		logger:        deps.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.submitTimeout <= 0 {
		s.submitTimeout = DefaultSubmitTimeout
	}
	return s
}

// Start opens a session at the first step and fetches member stats once. A stats failure
// is recorded on the session and does not fail the start.
func (s *sessionService) Start(ctx context.Context, initial wizard.Patch) (*models.WizardSession, error) {
	ctrl := wizard.NewController(models.NewCampaignDraft(), 0)
	if err := ctrl.Apply(initial); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &models.WizardSession{
		ID:        s.newID(),
		Draft:     ctrl.Draft(),
		Step:      int(ctrl.Step()),
		State:     models.SubmissionIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.fetchStats(ctx, sess)

	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	s.logger.Info("wizard session started",
		slog.String("session_id", sess.ID),
		slog.Bool("stats_loaded", sess.Stats != nil),
	)
	return sess, nil
}

// Get returns a session by id
func (s *sessionService) Get(ctx context.Context, id string) (*models.WizardSession, error) {
	return s.load(ctx, id)
}

// UpdateDraft applies a partial edit. Locked sessions reject edits. After a partial
// failure the campaign already exists, so only the schedule may change before a retry.
func (s *sessionService) UpdateDraft(ctx context.Context, id string, patch wizard.Patch) (*models.WizardSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsLocked() {
		return nil, models.ErrConflictWithMsg("session is locked by a submission")
	}
	if sess.State == models.SubmissionPartiallyFailed && !scheduleOnly(patch) {
		return nil, models.ErrConflictWithMsg("campaign already exists; only the schedule can change before a retry")
	}

	ctrl := wizard.NewController(sess.Draft, sess.Step)
	if err := ctrl.Apply(patch); err != nil {
		return nil, err
	}
	sess.Draft = ctrl.Draft()
	if sess.Stats != nil || sess.Draft.Audience == models.AudienceCustom {
		sess.LastKnownCount = s.audience.Count(sess.Draft.Audience, sess.Stats, sess.Draft.CustomAudience)
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Advance moves to the next step. An invalid current step leaves the session unchanged
// and returns the validation error.
func (s *sessionService) Advance(ctx context.Context, id string) (*models.WizardSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsLocked() {
		return nil, models.ErrConflictWithMsg("session is locked by a submission")
	}

	step := wizard.ClampStep(sess.Step)
	if err := wizard.ValidateStep(sess.Draft, step); err != nil {
		return nil, err
	}

	ctrl := wizard.NewController(sess.Draft, sess.Step)
	if !ctrl.Advance() {
		return sess, nil
	}
	sess.Step = int(ctrl.Step())

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Retreat moves to the previous step
func (s *sessionService) Retreat(ctx context.Context, id string) (*models.WizardSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsLocked() {
		return nil, models.ErrConflictWithMsg("session is locked by a submission")
	}

	ctrl := wizard.NewController(sess.Draft, sess.Step)
	if !ctrl.Retreat() {
		return sess, nil
	}
	sess.Step = int(ctrl.Step())

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RefreshStats refetches member stats. On failure the previous stats are kept.
func (s *sessionService) RefreshStats(ctx context.Context, id string) (*models.WizardSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.fetchStats(ctx, sess)

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Preview renders the preview for the current draft. It never moves the wizard.
func (s *sessionService) Preview(ctx context.Context, id string) (*Preview, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.previews.Build(ctx, sess.Draft, sess.Stats, sess.LastKnownCount), nil
}

// Submit creates and dispatches the campaign. The backend sequence runs detached from
// ctx so a client disconnect cannot stop it between create and send.
//
// A partial failure returns the session with a nil error; its Result carries the
// campaign id for RetryDispatch.
func (s *sessionService) Submit(ctx context.Context, id string) (*models.WizardSession, error) {
	return s.runSubmission(ctx, id, "submit", func(sess *models.WizardSession) error {
		if sess.State == models.SubmissionPartiallyFailed {
			return models.ErrConflictWithMsg("campaign already exists; retry the dispatch instead")
		}
		return s.submissions.CanSubmit(sess.Draft)
	}, func(ctx context.Context, sess *models.WizardSession) (*models.SubmissionResult, error) {
		return s.submissions.Submit(ctx, sess.Draft)
	})
}

// SaveDraft creates the campaign without dispatching it
func (s *sessionService) SaveDraft(ctx context.Context, id string) (*models.WizardSession, error) {
	return s.runSubmission(ctx, id, "save_draft", func(sess *models.WizardSession) error {
		if sess.State == models.SubmissionPartiallyFailed {
			return models.ErrConflictWithMsg("campaign already exists")
		}
		return s.submissions.CanSubmit(sess.Draft)
	}, func(ctx context.Context, sess *models.WizardSession) (*models.SubmissionResult, error) {
		return s.submissions.SaveDraft(ctx, sess.Draft)
	})
}

// RetryDispatch sends or schedules the campaign left behind by a partial failure
func (s *sessionService) RetryDispatch(ctx context.Context, id string) (*models.WizardSession, error) {
	return s.runSubmission(ctx, id, "retry", func(sess *models.WizardSession) error {
		if sess.State != models.SubmissionPartiallyFailed || sess.Result == nil || sess.Result.CampaignID == "" {
			return models.ErrConflictWithMsg("nothing to retry")
		}
		return nil
	}, func(ctx context.Context, sess *models.WizardSession) (*models.SubmissionResult, error) {
		return s.submissions.Dispatch(ctx, sess.Result.CampaignID, sess.Draft.ScheduledAt)
	})
}

// Cancel discards a session. A submission in flight cannot be cancelled.
func (s *sessionService) Cancel(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sess.State == models.SubmissionSubmitting {
		return models.ErrConflictWithMsg("submission in progress")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("wizard session cancelled", slog.String("session_id", id))
	return nil
}

type submissionCheck func(sess *models.WizardSession) error

type submissionCall func(ctx context.Context, sess *models.WizardSession) (*models.SubmissionResult, error)

func (s *sessionService) runSubmission(ctx context.Context, id, action string, check submissionCheck, call submissionCall) (*models.WizardSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsLocked() {
		return nil, models.ErrConflictWithMsg("session is locked by a submission")
	}
	if err := check(sess); err != nil {
		return nil, err
	}

	release, ok, err := s.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrConflictWithMsg("submission already in progress")
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("failed to release submit lock",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.submitTimeout)
	defer cancel()

	// Another request may have finished between the first load and the lock.
	sess, err = s.load(runCtx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsLocked() {
		return nil, models.ErrConflictWithMsg("session is locked by a submission")
	}
	if err := check(sess); err != nil {
		return nil, err
	}

	previous := sess.State
	sess.State = models.SubmissionSubmitting
	sess.LastError = ""
	if err := s.save(runCtx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("submission started",
		slog.String("session_id", id),
		slog.String("action", action),
		slog.String("name", sess.Draft.Name),
	)

	result, callErr := call(runCtx, sess)
	rejected := callErr != nil && models.HasCode(callErr, models.CodeInvalidInput)
	switch {
	case rejected:
		// Nothing reached the backend.
		sess.State = previous
		sess.LastError = callErr.Error()
	case callErr != nil:
		sess.State = models.SubmissionFailed
		sess.LastError = callErr.Error()
	default:
		sess.State = result.State()
		sess.Result = result
		sess.LastError = result.Error
	}

	finishCtx, finish := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finish()

	saveErr := s.save(finishCtx, sess)
	if saveErr != nil {
		attrs := []any{
			slog.String("session_id", id),
			slog.String("state", string(sess.State)),
			slog.String("error", saveErr.Error()),
		}
		if sess.Result != nil {
			attrs = append(attrs, slog.String("campaign_id", sess.Result.CampaignID))
		}
		s.logger.Error("failed to save submission outcome", attrs...)
	}

	if rejected {
		return sess, callErr
	}

	// The backend outcome is reported whether or not the session could be stored.
	if sess.State.IsTerminal() {
		s.publish(finishCtx, sess, callErr)
	}
	if callErr == nil && s.campaigns != nil {
		s.campaigns.Invalidate(finishCtx)
	}

	if callErr != nil {
		return sess, callErr
	}
	if saveErr != nil {
		return sess, models.ErrSessionNotSaved(sess.Result.CampaignID, saveErr)
	}
	return sess, nil
}

func (s *sessionService) publish(ctx context.Context, sess *models.WizardSession, callErr error) {
	if s.publisher == nil {
		return
	}

	event := &models.SubmissionEvent{
		ID:           s.newID(),
		SessionID:    sess.ID,
		CampaignName: sess.Draft.Name,
		State:        sess.State,
		ScheduledAt:  sess.Draft.ScheduledAt,
		OccurredAt:   s.now().UTC(),
	}
	if sess.Result != nil && callErr == nil {
		event.CampaignID = sess.Result.CampaignID
		event.Kind = sess.Result.Kind
		event.Error = sess.Result.Error
	}
	if callErr != nil {
		event.Error = callErr.Error()
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish submission event",
			slog.String("session_id", sess.ID),
			slog.String("state", string(sess.State)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *sessionService) fetchStats(ctx context.Context, sess *models.WizardSession) {
	stats, err := s.audience.Stats(ctx)
	if err != nil {
		sess.StatsError = err.Error()
		return
	}

	fetchedAt := s.now().UTC()
	sess.Stats = stats
	sess.StatsFetchedAt = &fetchedAt
	sess.StatsError = ""
	sess.LastKnownCount = s.audience.Count(sess.Draft.Audience, stats, sess.Draft.CustomAudience)
}

func (s *sessionService) load(ctx context.Context, id string) (*models.WizardSession, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFoundWithMsg("wizard session not found or expired")
		}
		return nil, err
	}
	if err := s.recoverInterrupted(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// recoverInterrupted fails a session left in Submitting by a submitter that no longer
// holds the lock. The backend outcome is unknown here; it was reported on the
// submission queue if the submitter got that far.
func (s *sessionService) recoverInterrupted(ctx context.Context, sess *models.WizardSession) error {
	if sess.State != models.SubmissionSubmitting {
		return nil
	}
	held, err := s.locker.Held(ctx, sess.ID)
	if err != nil {
		return err
	}
	if held {
		return nil
	}

	s.logger.Warn("recovering interrupted submission",
		slog.String("session_id", sess.ID),
	)
	sess.State = models.SubmissionFailed
	sess.LastError = interruptedMessage
	return s.save(ctx, sess)
}

func (s *sessionService) save(ctx context.Context, sess *models.WizardSession) error {
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func scheduleOnly(p wizard.Patch) bool {
	return p.Name == nil && p.Audience == nil && p.CustomAudience == nil && p.Body == nil
}
