package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/models"
)

// customFetchConcurrency bounds parallel GET /api/members/{id} calls for CUSTOM audiences
const customFetchConcurrency = 8

// MemberDirectory is the backend surface the audience resolver reads from
type MemberDirectory interface {
	GetMemberStats(ctx context.Context) (*models.MemberStats, error)
	ListMembers(ctx context.Context, filter models.MemberFilter) ([]*models.Member, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
}

// AudienceService resolves audience selectors to counts and members. It is the only
// place that interprets an AudienceSelector.
type AudienceService interface {
	Stats(ctx context.Context) (*models.MemberStats, error)
	Count(selector models.AudienceSelector, stats *models.MemberStats, customAudience []string) int
	ResolveMembers(ctx context.Context, selector models.AudienceSelector, customAudience []string, limit int) ([]*models.Member, error)
}

type audienceService struct {
	directory MemberDirectory
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// NewAudienceService creates a new audience service
func NewAudienceService(directory MemberDirectory, recorder *metrics.Recorder, logger *slog.Logger) AudienceService {
	return &audienceService{
		directory: directory,
		metrics:   recorder,
		logger:    logger,
	}
}

// CountAudience maps a selector onto already-fetched stats. It never touches the network.
// DELINQUENT_30/60/90 read the 0-30, 31-60 and 61-90 day buckets.
func CountAudience(selector models.AudienceSelector, stats *models.MemberStats, customAudience []string) int {
	if selector == models.AudienceCustom {
		return len(customAudience)
	}
	if stats == nil {
		return 0
	}

	switch selector {
	case models.AudienceAll:
		return stats.Total
	case models.AudienceEligible:
		return stats.Eligible
	case models.AudienceDelinquent30:
		return stats.Delinquency.Days0To30
	case models.AudienceDelinquent60:
		return stats.Delinquency.Days31To60
	case models.AudienceDelinquent90:
		return stats.Delinquency.Days61To90
	default:
		return 0
	}
}

// CoarseAudienceNote describes how a delinquency selector's count relates to the
// members the backend returns for it. It is empty for every other selector.
func CoarseAudienceNote(selector models.AudienceSelector, stats *models.MemberStats) string {
	var bucket string
	switch selector {
	case models.AudienceDelinquent30:
		bucket = "0-30"
	case models.AudienceDelinquent60:
		bucket = "31-60"
	case models.AudienceDelinquent90:
		bucket = "61-90"
	default:
		return ""
	}

	note := fmt.Sprintf("%s counts the %s day bucket; sample members may come from any delinquent bucket", selector, bucket)
	if stats != nil && stats.Delinquency.Days90Plus > 0 {
		note += fmt.Sprintf("; %d members more than 90 days overdue are not counted by any selector", stats.Delinquency.Days90Plus)
	}
	return note
}

// MemberFilterFor returns the server-side list filter for a non-CUSTOM selector. The
// backend only distinguishes PAID from DELINQUENT, so the three delinquency selectors
// share one coarse filter.
func MemberFilterFor(selector models.AudienceSelector, limit int) models.MemberFilter {
	filter := models.MemberFilter{Page: 1, Limit: limit}
	switch {
	case selector == models.AudienceEligible:
		filter.Eligibility = models.EligibilityEligible
	case selector.IsDelinquent():
		filter.Status = models.DuesStatusDelinquent
	}
	return filter
}

// Stats fetches the membership aggregate
func (s *audienceService) Stats(ctx context.Context) (*models.MemberStats, error) {
	stats, err := s.directory.GetMemberStats(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch member stats", slog.String("error", err.Error()))
		return nil, models.ErrResolution(err)
	}
	return stats, nil
}

// Count is CountAudience
func (s *audienceService) Count(selector models.AudienceSelector, stats *models.MemberStats, customAudience []string) int {
	return CountAudience(selector, stats, customAudience)
}

// ResolveMembers loads concrete members for a selector. For CUSTOM every id is fetched
// and the call fails as a whole if any single fetch fails. Other selectors issue one list
// query. limit <= 0 returns every resolved member.
func (s *audienceService) ResolveMembers(ctx context.Context, selector models.AudienceSelector, customAudience []string, limit int) ([]*models.Member, error) {
	if !selector.IsValid() {
		return nil, models.ErrInvalidInput(fmt.Sprintf("invalid audience: %s", selector))
	}

	var (
		members []*models.Member
		err     error
	)
	if selector == models.AudienceCustom {
		members, err = s.resolveCustom(ctx, customAudience)
	} else {
		members, err = s.directory.ListMembers(ctx, MemberFilterFor(selector, limit))
	}
	if err != nil {
		s.metrics.ResolutionFailed(string(selector))
		s.logger.Warn("failed to resolve audience",
			slog.String("audience", string(selector)),
			slog.Int("custom_count", len(customAudience)),
			slog.String("error", err.Error()),
		)
		return nil, models.ErrResolution(err)
	}

	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}
	return members, nil
}

func (s *audienceService) resolveCustom(ctx context.Context, ids []string) ([]*models.Member, error) {
	members := make([]*models.Member, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(customFetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			member, err := s.directory.GetMember(gctx, id)
			if err != nil {
				return err
			}
			members[i] = member
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return members, nil
}
