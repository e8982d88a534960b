package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Raymond9734/congregation-console/internal/models"
)

const (
	campaignGenerationKey = "campaigns:list:gen"
	campaignPagePrefix    = "campaigns:list"
)

// DefaultCampaignCacheTTL caps staleness when no submission invalidates the list
const DefaultCampaignCacheTTL = 30 * time.Second

// CampaignCache caches campaign list pages under a generation counter. Bumping the
// generation orphans every cached page at once; orphans expire on their own TTL.
type CampaignCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCampaignCache creates a campaign list cache. ttl <= 0 uses DefaultCampaignCacheTTL.
func NewCampaignCache(client redis.Cmdable, ttl time.Duration) *CampaignCache {
	if ttl <= 0 {
		ttl = DefaultCampaignCacheTTL
	}
	return &CampaignCache{client: client, ttl: ttl}
}

// PageKey returns the cache key of one list page in a generation
func PageKey(generation int64, page, pageSize int) string {
	return fmt.Sprintf("%s:g%d:p%d:s%d", campaignPagePrefix, generation, page, pageSize)
}

// Get returns a cached page and the generation it was looked up in. ok is false on a
// miss; pass gen to Set so a page read before an Invalidate is never stored after it.
func (c *CampaignCache) Get(ctx context.Context, page, pageSize int) (result *models.CampaignListResult, gen int64, ok bool, err error) {
	gen, err = c.generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := c.client.Get(ctx, PageKey(gen, page, pageSize)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, false, nil
		}
		return nil, gen, false, fmt.Errorf("failed to read campaign cache: %w", err)
	}

	var cached models.CampaignListResult
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, gen, false, fmt.Errorf("failed to unmarshal cached campaigns: %w", err)
	}
	return &cached, gen, true, nil
}

// Set stores a page under gen. Pages for an old generation are unreachable, so a
// read that raced an Invalidate cannot resurrect stale data.
func (c *CampaignCache) Set(ctx context.Context, gen int64, page, pageSize int, result *models.CampaignListResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal campaigns: %w", err)
	}

	if err := c.client.Set(ctx, PageKey(gen, page, pageSize), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write campaign cache: %w", err)
	}
	return nil
}

// Invalidate starts a new generation
func (c *CampaignCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, campaignGenerationKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate campaign cache: %w", err)
	}
	return nil
}

func (c *CampaignCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, campaignGenerationKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read campaign cache generation: %w", err)
	}
	return gen, nil
}
