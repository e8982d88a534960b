package service

import (
	"context"
	"log/slog"

	"github.com/Raymond9734/congregation-console/internal/metrics"
	"github.com/Raymond9734/congregation-console/internal/models"
)

// CampaignLister is the backend surface for listing campaigns
type CampaignLister interface {
	ListCampaigns(ctx context.Context, page, pageSize int) (*models.CampaignListResult, error)
}

// CampaignCache stores campaign list pages
type CampaignCache interface {
	Get(ctx context.Context, page, pageSize int) (result *models.CampaignListResult, gen int64, ok bool, err error)
	Set(ctx context.Context, gen int64, page, pageSize int, result *models.CampaignListResult) error
	Invalidate(ctx context.Context) error
}

// CampaignListService serves the console's campaign list
type CampaignListService interface {
	List(ctx context.Context, page, pageSize int) (*models.CampaignListResult, error)
	Invalidate(ctx context.Context)
}

type campaignListService struct {
	lister  CampaignLister
	cache   CampaignCache
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewCampaignListService creates a new campaign list service. cache may be nil.
func NewCampaignListService(lister CampaignLister, cache CampaignCache, recorder *metrics.Recorder, logger *slog.Logger) CampaignListService {
	return &campaignListService{
		lister:  lister,
		cache:   cache,
		metrics: recorder,
		logger:  logger,
	}
}

// List returns a page of campaigns. Cache errors degrade to a backend read.
func (s *campaignListService) List(ctx context.Context, page, pageSize int) (*models.CampaignListResult, error) {
	models.ValidateAndSetDefaults(&page, &pageSize)

	cacheable := false
	var gen int64
	if s.cache != nil {
		cached, g, ok, err := s.cache.Get(ctx, page, pageSize)
		if err != nil {
			s.logger.Warn("campaign cache read failed", slog.String("error", err.Error()))
		} else {
			cacheable, gen = true, g
			s.metrics.CacheLookup(ok)
			if ok {
				return cached, nil
			}
		}
	}

	result, err := s.lister.ListCampaigns(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.Set(ctx, gen, page, pageSize, result); err != nil {
			s.logger.Warn("campaign cache write failed", slog.String("error", err.Error()))
		}
	}
	return result, nil
}

// Invalidate drops every cached page. Failures are logged; entries still expire on TTL.
func (s *campaignListService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("campaign cache invalidation failed", slog.String("error", err.Error()))
	}
}
