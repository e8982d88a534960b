// Package backend is a thin client for the church REST API. It maps the backend's wire
// format onto internal models and nothing else; no business rules live here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Raymond9734/congregation-console/internal/models"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx response from the backend
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s %s returned %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap lets callers match a 404 with errors.Is(err, models.ErrNotFound)
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	return nil
}

// Config holds backend client configuration
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client talks to the backend REST API
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme and host are required", cfg.BaseURL)
	}

	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    base,
		token:      cfg.APIToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// GetMemberStats handles GET /api/members/stats
func (c *Client) GetMemberStats(ctx context.Context) (*models.MemberStats, error) {
	var out statsDTO
	if err := c.do(ctx, http.MethodGet, "/api/members/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.toModel(), nil
}

// ListMembers handles GET /api/members with server-side filters
func (c *Client) ListMembers(ctx context.Context, filter models.MemberFilter) ([]*models.Member, error) {
	query := url.Values{}
	if filter.Eligibility != "" {
		query.Set("eligibility", string(filter.Eligibility))
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}

	var out memberListDTO
	if err := c.do(ctx, http.MethodGet, "/api/members", query, nil, &out); err != nil {
		return nil, err
	}

	members := make([]*models.Member, 0, len(out.Data))
	for _, dto := range out.Data {
		member, err := dto.toModel()
		if err != nil {
			return nil, fmt.Errorf("failed to decode member: %w", err)
		}
		members = append(members, member)
	}
	return members, nil
}

// GetMember handles GET /api/members/{id}
func (c *Client) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var out memberDTO
	if err := c.do(ctx, http.MethodGet, "/api/members/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	member, err := out.toModel()
	if err != nil {
		return nil, fmt.Errorf("failed to decode member %s: %w", id, err)
	}
	if member.ID == "" {
		member.ID = id
	}
	return member, nil
}

// CreateCampaign handles POST /api/communications. The returned campaign may have an
// empty ID when the backend omits both id fields; callers must check.
func (c *Client) CreateCampaign(ctx context.Context, draft models.CampaignDraft) (*models.Campaign, error) {
	req := createCampaignDTO{
		Name:     strings.TrimSpace(draft.Name),
		Body:     draft.Body,
		Audience: string(draft.Audience),
		Channel:  "sms",
	}
	if draft.Audience == models.AudienceCustom {
		req.CustomAudience = draft.CustomAudience
	}

	var out campaignDTO
	if err := c.do(ctx, http.MethodPost, "/api/communications", nil, req, &out); err != nil {
		return nil, err
	}
	return out.toModel()
}

// SendCampaign handles POST /api/communications/{id}/send
func (c *Client) SendCampaign(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/communications/"+url.PathEscape(id)+"/send", nil, struct{}{}, nil)
}

// ScheduleCampaign handles POST /api/communications/{id}/schedule
func (c *Client) ScheduleCampaign(ctx context.Context, id string, at time.Time) error {
	body := scheduleDTO{ScheduledAt: at.UTC()}
	return c.do(ctx, http.MethodPost, "/api/communications/"+url.PathEscape(id)+"/schedule", nil, body, nil)
}

// ListCampaigns handles GET /api/communications
func (c *Client) ListCampaigns(ctx context.Context, page, pageSize int) (*models.CampaignListResult, error) {
	models.ValidateAndSetDefaults(&page, &pageSize)
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(pageSize))

	var out campaignListDTO
	if err := c.do(ctx, http.MethodGet, "/api/communications", query, nil, &out); err != nil {
		return nil, err
	}

	campaigns := make([]*models.Campaign, 0, len(out.Data))
	for _, dto := range out.Data {
		campaign, err := dto.toModel()
		if err != nil {
			return nil, fmt.Errorf("failed to decode campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	total := out.Pagination.Total
	if total == 0 {
		total = int64(len(campaigns))
	}
	return &models.CampaignListResult{
		Data:       campaigns,
		Pagination: models.NewPaginationResult(page, pageSize, total),
	}, nil
}

// Health checks that the backend answers the stats endpoint
func (c *Client) Health(ctx context.Context) error {
	_, err := c.GetMemberStats(ctx)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}
		var dto errorDTO
		if json.Unmarshal(raw, &dto) == nil {
			apiErr.Message = dto.text()
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
