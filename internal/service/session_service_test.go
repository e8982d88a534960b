package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raymond9734/congregation-console/internal/models"
	"github.com/Raymond9734/congregation-console/internal/wizard"
)

// memStore is an in-memory SessionStore that stores copies
type memStore struct {
	mu       sync.Mutex
	sessions map[string]models.WizardSession
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]models.WizardSession{}}
}

func (m *memStore) Save(ctx context.Context, sess *models.WizardSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *sess
	cp.Draft = sess.Draft.Clone()
	m.sessions[sess.ID] = cp
	return nil
}

func (m *memStore) Load(ctx context.Context, id string) (*models.WizardSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	sess.Draft = sess.Draft.Clone()
	return &sess, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memStore) state(id string) models.SubmissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].State
}

// memLocker is an in-memory SubmitLocker
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) Acquire(ctx context.Context, id string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[id] {
		return nil, false, nil
	}
	l.held[id] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, id)
		return nil
	}, true, nil
}

func (l *memLocker) Held(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id], nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []*models.SubmissionEvent
	err    error
}

func (p *mockPublisher) Publish(ctx context.Context, event *models.SubmissionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type mockCampaignList struct {
	mu            sync.Mutex
	invalidations int
}

func (m *mockCampaignList) List(ctx context.Context, page, pageSize int) (*models.CampaignListResult, error) {
	return &models.CampaignListResult{}, nil
}

func (m *mockCampaignList) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
}

type sessionFixture struct {
	svc       SessionService
	store     *memStore
	locker    *memLocker
	dir       *mockDirectory
	gateway   *mockGateway
	publisher *mockPublisher
	campaigns *mockCampaignList
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		store:     newMemStore(),
		locker:    &memLocker{},
		dir:       &mockDirectory{stats: sampleStats()},
		gateway:   &mockGateway{createdID: "c1"},
		publisher: &mockPublisher{},
		campaigns: &mockCampaignList{},
	}
	audience := NewAudienceService(f.dir, nil, testLogger())
	f.svc = NewSessionService(SessionDeps{
		Store:       f.store,
		Locker:      f.locker,
		Audience:    audience,
		Previews:    NewPreviewService(audience, NewTemplateService("", ""), testRate, 0),
		Submissions: NewSubmissionService(f.gateway, fixedClock(testNow), nil, testLogger()),
		Campaigns:   f.campaigns,
		Publisher:   f.publisher,
		Now:         fixedClock(testNow),
		NewID:       sequentialIDs(),
		Logger:      testLogger(),
	})
	return f
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + string(rune('0'+n))
	}
}

func ptr[T any](v T) *T { return &v }

// completeSession starts a session and fills every step
func (f *sessionFixture) completeSession(t *testing.T, audience models.AudienceSelector) *models.WizardSession {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, wizard.Patch{})
	require.NoError(t, err)

	sess, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{
		Name:     ptr("July Reminder"),
		Audience: ptr(audience),
		Body:     ptr("Hi {{firstName}}"),
	})
	require.NoError(t, err)
	return sess
}

func TestSessionService_Start(t *testing.T) {
	f := newSessionFixture(t)

	sess, err := f.svc.Start(context.Background(), wizard.Patch{Name: ptr("Dues")})
	require.NoError(t, err)

	assert.Equal(t, "id-1", sess.ID)
	assert.Equal(t, 0, sess.Step)
	assert.Equal(t, models.SubmissionIdle, sess.State)
	assert.Equal(t, "Dues", sess.Draft.Name)
	assert.Equal(t, models.AudienceAll, sess.Draft.Audience)
	require.NotNil(t, sess.Stats)
	assert.Equal(t, 120, sess.LastKnownCount)
	assert.Equal(t, 1, f.dir.statsCall)
}

func TestSessionService_Start_StatsFailureIsRecoverable(t *testing.T) {
	f := newSessionFixture(t)
	f.dir.statsErr = errors.New("backend down")

	sess, err := f.svc.Start(context.Background(), wizard.Patch{})
	require.NoError(t, err)

	assert.Nil(t, sess.Stats)
	assert.Contains(t, sess.StatsError, "backend down")

	f.dir.statsErr = nil
	sess, err = f.svc.RefreshStats(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, sess.Stats)
	assert.Empty(t, sess.StatsError)
	assert.Equal(t, 2, f.dir.statsCall)
}

func TestSessionService_Navigation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, wizard.Patch{})
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, sess.ID)
	assert.True(t, models.HasCode(err, models.CodeInvalidInput), "blank name blocks step 0")

	_, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{Name: ptr("Youth night")})
	require.NoError(t, err)

	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Step)

	_, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{Audience: ptr(models.AudienceCustom)})
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, sess.ID)
	assert.True(t, models.HasCode(err, models.CodeInvalidInput), "empty custom audience blocks step 1")

	sess, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{CustomAudience: []string{"m1", "m1", "m2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, sess.Draft.CustomAudience)
	assert.Equal(t, 2, sess.LastKnownCount)

	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Step)

	sess, err = f.svc.Retreat(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Step)

	sess, err = f.svc.Retreat(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = f.svc.Retreat(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Step, "retreat clamps at the first step")
}

func TestSessionService_UnknownSession(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.svc.Get(context.Background(), "missing")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionService_Preview(t *testing.T) {
	f := newSessionFixture(t)
	f.dir.list = []*models.Member{{ID: "m1", FirstName: "Pat"}}
	sess := f.completeSession(t, models.AudienceEligible)

	preview, err := f.svc.Preview(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, 42, preview.RecipientCount)
	assert.Equal(t, 42*testRate, preview.EstimatedCost)
	require.Len(t, preview.Samples, 1)
	assert.Equal(t, "Hi Pat", preview.Samples[0].Message)

	after, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Step, after.Step, "preview never moves the wizard")
}

func TestSessionService_Submit_Success(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.completeSession(t, models.AudienceEligible)

	sess, err := f.svc.Submit(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SubmissionSucceeded, sess.State)
	require.NotNil(t, sess.Result)
	assert.Equal(t, models.SubmissionCreatedAndSent, sess.Result.Kind)
	assert.Equal(t, "c1", sess.Result.CampaignID)
	assert.Equal(t, 1, f.campaigns.invalidations)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.SubmissionSucceeded, f.publisher.events[0].State)
	assert.Equal(t, "c1", f.publisher.events[0].CampaignID)
	assert.Equal(t, sess.ID, f.publisher.events[0].SessionID)

	_, err = f.svc.UpdateDraft(context.Background(), sess.ID, wizard.Patch{Name: ptr("again")})
	assert.True(t, models.HasCode(err, models.CodeConflict), "a submitted session is locked")

	_, err = f.svc.Submit(context.Background(), sess.ID)
	assert.True(t, models.HasCode(err, models.CodeConflict))
	assert.Equal(t, []string{"create", "send"}, f.gateway.ops())
}

func TestSessionService_Submit_CreateFailureKeepsDraft(t *testing.T) {
	f := newSessionFixture(t)
	f.gateway.createErr = errors.New("backend returned 500")
	sess := f.completeSession(t, models.AudienceAll)

	sess, err := f.svc.Submit(context.Background(), sess.ID)

	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeSubmissionFailed))
	require.NotNil(t, sess)
	assert.Equal(t, models.SubmissionFailed, sess.State)
	assert.Nil(t, sess.Result)
	assert.Contains(t, sess.LastError, "backend returned 500")
	assert.Equal(t, "July Reminder", sess.Draft.Name, "draft retained")
	assert.Zero(t, f.campaigns.invalidations)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.SubmissionFailed, f.publisher.events[0].State)

	// the draft stays editable and can be resubmitted
	f.gateway.createErr = nil
	_, err = f.svc.UpdateDraft(context.Background(), sess.ID, wizard.Patch{Name: ptr("July Reminder v2")})
	require.NoError(t, err)
	sess, err = f.svc.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSucceeded, sess.State)
}

func TestSessionService_PartialFailureThenRetry(t *testing.T) {
	f := newSessionFixture(t)
	f.gateway.sendErr = errors.New("sms provider timeout")
	sess := f.completeSession(t, models.AudienceAll)
	ctx := context.Background()

	sess, err := f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPartiallyFailed, sess.State)
	require.NotNil(t, sess.Result)
	assert.Equal(t, "c1", sess.Result.CampaignID)
	assert.Contains(t, sess.LastError, "c1")
	assert.Equal(t, 1, f.campaigns.invalidations, "the draft campaign now exists on the backend")

	_, err = f.svc.Submit(ctx, sess.ID)
	assert.True(t, models.HasCode(err, models.CodeConflict), "resubmitting would duplicate the campaign")

	_, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{Body: ptr("changed")})
	assert.True(t, models.HasCode(err, models.CodeConflict))

	f.gateway.sendErr = nil
	sess, err = f.svc.RetryDispatch(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SubmissionSucceeded, sess.State)
	assert.Equal(t, models.SubmissionCreatedAndSent, sess.Result.Kind)
	assert.Equal(t, []string{"create", "send", "send"}, f.gateway.ops(), "retry never creates")
	assert.Equal(t, "c1", f.gateway.calls[2].id)
	assert.Equal(t, 2, f.campaigns.invalidations)
	assert.Len(t, f.publisher.events, 2)
}

func TestSessionService_RetryDispatch_NothingToRetry(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.completeSession(t, models.AudienceAll)

	_, err := f.svc.RetryDispatch(context.Background(), sess.ID)
	assert.True(t, models.HasCode(err, models.CodeConflict))
	assert.Empty(t, f.gateway.ops())
}

func TestSessionService_Submit_InvalidDraftTouchesNothing(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, wizard.Patch{Name: ptr("No body")})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, sess.ID)
	assert.True(t, models.HasCode(err, models.CodeInvalidInput))
	assert.Empty(t, f.gateway.ops())
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, models.SubmissionIdle, f.store.state(sess.ID))
}

func TestSessionService_Submit_ConcurrentIsRejected(t *testing.T) {
	f := newSessionFixture(t)
	f.gateway.block = make(chan struct{})
	sess := f.completeSession(t, models.AudienceAll)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(ctx, sess.ID)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.store.state(sess.ID) == models.SubmissionSubmitting
	}, time.Second, 5*time.Millisecond)

	_, err := f.svc.Submit(ctx, sess.ID)
	assert.True(t, models.HasCode(err, models.CodeConflict))

	_, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{Name: ptr("edit while submitting")})
	assert.True(t, models.HasCode(err, models.CodeConflict))

	assert.True(t, models.HasCode(f.svc.Cancel(ctx, sess.ID), models.CodeConflict))

	close(f.gateway.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"create", "send"}, f.gateway.ops(), "exactly one create")
}

func TestSessionService_Submit_SurvivesCallerCancel(t *testing.T) {
	f := newSessionFixture(t)
	f.gateway.block = make(chan struct{})
	sess := f.completeSession(t, models.AudienceAll)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(ctx, sess.ID)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.store.state(sess.ID) == models.SubmissionSubmitting
	}, time.Second, 5*time.Millisecond)
	cancel()
	close(f.gateway.block)

	require.NoError(t, <-done)
	assert.Equal(t, models.SubmissionSucceeded, f.store.state(sess.ID))
	assert.Equal(t, []string{"create", "send"}, f.gateway.ops())
}

func TestSessionService_SaveDraft(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.completeSession(t, models.AudienceAll)

	sess, err := f.svc.SaveDraft(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SubmissionSucceeded, sess.State)
	assert.Equal(t, models.SubmissionCreated, sess.Result.Kind)
	assert.Equal(t, []string{"create"}, f.gateway.ops())
}

func TestSessionService_Cancel(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.completeSession(t, models.AudienceAll)

	require.NoError(t, f.svc.Cancel(context.Background(), sess.ID))

	_, err := f.svc.Get(context.Background(), sess.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestSessionService_PublishFailureDoesNotFailSubmit(t *testing.T) {
	f := newSessionFixture(t)
	f.publisher.err = errors.New("redis unavailable")
	sess := f.completeSession(t, models.AudienceAll)

	sess, err := f.svc.Submit(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSucceeded, sess.State)
}

func TestSessionService_Submit_OutcomeSurvivesSaveFailure(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.completeSession(t, models.AudienceAll)
	ctx := context.Background()

	// Redis stops accepting writes after the campaign is created.
	f.gateway.afterCreate = func() { f.store.setSaveErr(errors.New("redis write timeout")) }

	got, err := f.svc.Submit(ctx, sess.ID)

	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeSessionNotSaved))
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "c1", appErr.CampaignID)

	require.NotNil(t, got, "the outcome is returned even though it was not stored")
	assert.Equal(t, models.SubmissionSucceeded, got.State)
	require.NotNil(t, got.Result)
	assert.Equal(t, "c1", got.Result.CampaignID)
	assert.Equal(t, []string{"create", "send"}, f.gateway.ops())

	require.Len(t, f.publisher.events, 1, "the ledger still hears about the campaign")
	assert.Equal(t, "c1", f.publisher.events[0].CampaignID)
	assert.Equal(t, 1, f.campaigns.invalidations)

	// Once Redis recovers the stale Submitting state is not a dead end.
	f.store.setSaveErr(nil)
	assert.Equal(t, models.SubmissionSubmitting, f.store.state(sess.ID))

	recovered, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionFailed, recovered.State)
	assert.Contains(t, recovered.LastError, "check the campaign list")
	assert.Equal(t, models.SubmissionFailed, f.store.state(sess.ID))

	require.NoError(t, f.svc.Cancel(ctx, sess.ID))
}

func TestSessionService_SubmittingWithHeldLockIsNotRecovered(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.completeSession(t, models.AudienceAll)
	ctx := context.Background()

	release, ok, err := f.locker.Acquire(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := f.store.Load(ctx, sess.ID)
	require.NoError(t, err)
	stored.State = models.SubmissionSubmitting
	require.NoError(t, f.store.Save(ctx, stored))

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSubmitting, got.State)
	assert.True(t, models.HasCode(f.svc.Cancel(ctx, sess.ID), models.CodeConflict))

	require.NoError(t, release(ctx))
	require.NoError(t, f.svc.Cancel(ctx, sess.ID), "a lock-free Submitting session is recoverable")
}

func TestSessionService_CustomAudienceResolutionFailureIsRecoverable(t *testing.T) {
	f := newSessionFixture(t)
	f.dir.members = map[string]*models.Member{"m1": {ID: "m1", FirstName: "Pat"}}
	f.dir.failIDs = map[string]bool{"m2": true}
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, wizard.Patch{Name: ptr("Choir call")})
	require.NoError(t, err)
	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{
		Audience:       ptr(models.AudienceCustom),
		CustomAudience: []string{"m1", "m2"},
	})
	require.NoError(t, err)
	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(ctx, sess.ID, wizard.Patch{Body: ptr("Hi {{firstName}}")})
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, int(wizard.StepPreview), sess.Step)

	preview, err := f.svc.Preview(ctx, sess.ID)
	require.NoError(t, err, "a resolution failure is carried inline")
	assert.NotEmpty(t, preview.ResolutionError)
	assert.Equal(t, 2, preview.RecipientCount)

	// Navigation is unaffected.
	sess, err = f.svc.Retreat(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int(wizard.StepSchedule), sess.Step)
	sess, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int(wizard.StepPreview), sess.Step)

	sess, err = f.svc.Submit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSucceeded, sess.State)
	require.Len(t, f.gateway.drafts, 1)
	assert.Equal(t, []string{"m1", "m2"}, f.gateway.drafts[0].CustomAudience)
}
