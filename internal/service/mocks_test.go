package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Raymond9734/congregation-console/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDirectory is an in-memory MemberDirectory
type mockDirectory struct {
	mu        sync.Mutex
	stats     *models.MemberStats
	statsErr  error
	members   map[string]*models.Member
	failIDs   map[string]bool
	list      []*models.Member
	listErr   error
	filters   []models.MemberFilter
	getCalls  []string
	statsCall int
}

func (m *mockDirectory) GetMemberStats(ctx context.Context) (*models.MemberStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsCall++
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

func (m *mockDirectory) ListMembers(ctx context.Context, filter models.MemberFilter) ([]*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.list, nil
}

func (m *mockDirectory) GetMember(ctx context.Context, id string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls = append(m.getCalls, id)
	if m.failIDs[id] {
		return nil, errors.New("backend GET /api/members/" + id + " returned 500")
	}
	member, ok := m.members[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("member not found")
	}
	return member, nil
}

type gatewayCall struct {
	op string
	id string
	at *time.Time
}

// mockGateway records every CampaignGateway call in order
type mockGateway struct {
	mu          sync.Mutex
	calls       []gatewayCall
	createdID   string
	createErr   error
	sendErr     error
	scheduleErr error
	nilCampaign bool
	drafts      []models.CampaignDraft
	block       chan struct{}

	// afterCreate runs once a create has succeeded
	afterCreate func()
}

func (m *mockGateway) CreateCampaign(ctx context.Context, draft models.CampaignDraft) (*models.Campaign, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.calls = append(m.calls, gatewayCall{op: "create"})
	m.drafts = append(m.drafts, draft)
	createErr, nilCampaign, after := m.createErr, m.nilCampaign, m.afterCreate
	m.mu.Unlock()

	if createErr != nil {
		return nil, createErr
	}
	if nilCampaign {
		return nil, nil
	}
	if after != nil {
		after()
	}
	return &models.Campaign{ID: m.createdID, Name: draft.Name, Status: models.CampaignStatusDraft}, nil
}

func (m *mockGateway) SendCampaign(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gatewayCall{op: "send", id: id})
	return m.sendErr
}

func (m *mockGateway) ScheduleCampaign(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gatewayCall{op: "schedule", id: id, at: &at})
	return m.scheduleErr
}

func (m *mockGateway) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.op)
	}
	return out
}

func sampleStats() *models.MemberStats {
	return &models.MemberStats{
		Total:    120,
		Eligible: 42,
		Delinquency: models.DelinquencyBuckets{
			Days0To30:  7,
			Days31To60: 5,
			Days61To90: 3,
			Days90Plus: 2,
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
