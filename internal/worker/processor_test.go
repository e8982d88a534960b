package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/models"
)

// Mock repository for testing
type mockSubmissionRepo struct {
	recorded  map[string]*models.SubmissionEvent
	recordErr error
	calls     int
}

func (m *mockSubmissionRepo) Record(ctx context.Context, event *models.SubmissionEvent) (bool, error) {
	m.calls++
	if m.recordErr != nil {
		return false, m.recordErr
	}
	if m.recorded == nil {
		m.recorded = map[string]*models.SubmissionEvent{}
	}
	if _, dup := m.recorded[event.ID]; dup {
		return false, nil
	}
	m.recorded[event.ID] = event
	return true, nil
}

// Unused methods for interface compliance
func (m *mockSubmissionRepo) GetByEventID(ctx context.Context, eventID string) (*models.LedgerEntry, error) {
	return nil, nil
}
func (m *mockSubmissionRepo) List(ctx context.Context, filter models.LedgerFilter) ([]*models.LedgerEntry, int64, error) {
	return nil, 0, nil
}

type mockRequeuer struct {
	events []*models.SubmissionEvent
	err    error
}

func (m *mockRequeuer) Publish(ctx context.Context, event *models.SubmissionEvent) error {
	m.events = append(m.events, event)
	return m.err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLedgerProcessor_RecordsOncePerEvent(t *testing.T) {
	repo := &mockSubmissionRepo{}
	rec := metrics.NewRecorder()
	processor := NewLedgerProcessor(repo, &mockRequeuer{}, 3, rec, newTestLogger())
	ctx := context.Background()

	event := &models.SubmissionEvent{ID: "e1", CampaignID: "c1", State: models.SubmissionSucceeded}

	require.NoError(t, processor.Process(ctx, event))
	require.NoError(t, processor.Process(ctx, event), "redelivery is not an error")

	assert.Len(t, repo.recorded, 1)
	assert.Equal(t, 2, repo.calls)

	expected := `
# HELP submission_ledger_events_total Submission events consumed by the ledger worker
# TYPE submission_ledger_events_total counter
submission_ledger_events_total{result="duplicate"} 1
submission_ledger_events_total{result="recorded"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "submission_ledger_events_total"))
}

func TestLedgerProcessor_Failures(t *testing.T) {
	tests := []struct {
		name         string
		attempts     int
		maxRetries   int
		requeueErr   error
		nilRequeuer  bool
		wantRequeued bool
	}{
		{name: "first failure requeues", attempts: 0, maxRetries: 3, wantRequeued: true},
		{name: "last retry drops", attempts: 2, maxRetries: 3},
		{name: "requeue error drops", attempts: 0, maxRetries: 3, requeueErr: errors.New("redis down")},
		{name: "no requeuer drops", attempts: 0, maxRetries: 3, nilRequeuer: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recordErr := errors.New("connection refused")
			repo := &mockSubmissionRepo{recordErr: recordErr}
			requeuer := &mockRequeuer{err: tt.requeueErr}
			var rq Requeuer = requeuer
			if tt.nilRequeuer {
				rq = nil
			}
			processor := NewLedgerProcessor(repo, rq, tt.maxRetries, nil, newTestLogger())

			err := processor.Process(context.Background(), &models.SubmissionEvent{
				ID:       "e1",
				State:    models.SubmissionFailed,
				Attempts: tt.attempts,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, recordErr, "the write error is kept as the cause")
			if tt.requeueErr != nil {
				assert.ErrorIs(t, err, tt.requeueErr)
				assert.Contains(t, err.Error(), "redis down")
			}

			if tt.wantRequeued {
				require.Len(t, requeuer.events, 1)
				assert.Equal(t, tt.attempts+1, requeuer.events[0].Attempts)
				assert.Equal(t, "e1", requeuer.events[0].ID)
			} else if tt.requeueErr == nil {
				assert.Empty(t, requeuer.events)
			}
		})
	}
}

func TestLedgerProcessor_RejectsEventWithoutID(t *testing.T) {
	repo := &mockSubmissionRepo{}
	processor := NewLedgerProcessor(repo, nil, 3, nil, newTestLogger())

	err := processor.Process(context.Background(), &models.SubmissionEvent{State: models.SubmissionSucceeded})

	assert.True(t, models.HasCode(err, models.CodeInvalidInput))
	assert.Zero(t, repo.calls)
}
