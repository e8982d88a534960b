package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raymond9734/congregation-console/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, APIToken: "secret", Timeout: time.Second}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "/api"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestClient_GetMemberStats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/members/stats", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"total":120,"eligible":42,"delinquency":{"0-30":7,"31-60":5,"61-90":3,"90+":2}}`)
	})

	stats, err := client.GetMemberStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.MemberStats{
		Total:    120,
		Eligible: 42,
		Delinquency: models.DelinquencyBuckets{
			Days0To30:  7,
			Days31To60: 5,
			Days61To90: 3,
			Days90Plus: 2,
		},
	}, *stats)
}

func TestClient_ListMembers_SendsFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/members", r.URL.Path)
		assert.Equal(t, "DELINQUENT", r.URL.Query().Get("status"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("eligibility"))
		_, _ = io.WriteString(w, `{"data":[
			{"id":"m1","firstName":"Pat","lastName":"Otieno","status":"delinquent","daysDelinquent":45},
			{"_id":"64b7f0","firstName":"Sam","eligibility":"ELIGIBLE"},
			{"id":17,"firstName":"Lee"}
		]}`)
	})

	members, err := client.ListMembers(context.Background(), models.MemberFilter{Status: models.DuesStatusDelinquent, Limit: 3})
	require.NoError(t, err)
	require.Len(t, members, 3)

	assert.Equal(t, "m1", members[0].ID)
	assert.Equal(t, models.DuesStatusDelinquent, members[0].Status)
	assert.Equal(t, 45, members[0].DaysDelinquent)
	assert.Equal(t, "64b7f0", members[1].ID)
	assert.Equal(t, models.EligibilityEligible, members[1].Eligibility)
	assert.Equal(t, "17", members[2].ID)
}

func TestClient_GetMember_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/members/m2", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"member not found"}}`)
	})

	_, err := client.GetMember(context.Background(), "m2")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "member not found", apiErr.Message)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestClient_CreateCampaign_IDFields(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantID   string
		wantErr  bool
	}{
		{name: "id field", response: `{"id":"c1","name":"July Reminder","status":"draft"}`, wantID: "c1"},
		{name: "native id field", response: `{"_id":"65aa01","name":"July Reminder"}`, wantID: "65aa01"},
		{name: "numeric id", response: `{"id":901}`, wantID: "901"},
		{name: "empty id falls back to native", response: `{"id":"","_id":"65aa02"}`, wantID: "65aa02"},
		{name: "no id at all", response: `{"name":"July Reminder"}`, wantID: ""},
		{name: "object id", response: `{"id":{"$oid":"x"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/communications", r.URL.Path)

				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "July Reminder", body["name"])
				assert.Equal(t, "ELIGIBLE", body["audience"])
				assert.NotContains(t, body, "customAudience")

				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, tt.response)
			})

			campaign, err := client.CreateCampaign(context.Background(), models.CampaignDraft{
				Name:     " July Reminder ",
				Audience: models.AudienceEligible,
				Body:     "Hi {{firstName}}",
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, campaign.ID)
		})
	}
}

func TestClient_ScheduleCampaign(t *testing.T) {
	at := time.Date(2030, 7, 1, 9, 0, 0, 0, time.FixedZone("EAT", 3*3600))

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/communications/c1/schedule", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2030-07-01T06:00:00Z", body["scheduledAt"])
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.ScheduleCampaign(context.Background(), "c1", at))
}

func TestClient_SendCampaign_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/communications/c1/send", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "gateway unavailable")
	})

	err := client.SendCampaign(context.Background(), "c1")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "gateway unavailable", apiErr.Message)
	assert.False(t, errors.Is(err, models.ErrNotFound))
}

func TestClient_ListCampaigns(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"data":[{"id":"c1","status":"sent"}],"pagination":{"page":2,"limit":20,"total":21}}`)
	})

	result, err := client.ListCampaigns(context.Background(), 2, 0)
	require.NoError(t, err)

	require.Len(t, result.Data, 1)
	assert.Equal(t, models.CampaignStatusSent, result.Data[0].Status)
	assert.Equal(t, 2, result.Pagination.TotalPages)
}

func TestClient_RespectsContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetMemberStats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
