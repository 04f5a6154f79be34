package modelquery

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/pkg/metrics"
)

// CachedClient memoizes GetModel lookups for a bounded time. Listings are not cached.
type CachedClient struct {
	source Source
	cache  *ttlcache.Cache[string, *model.Object]
}

var _ Source = (*CachedClient)(nil)

// NewCachedClient wraps source with a TTL cache holding at most capacity models.
func NewCachedClient(source Source, ttl time.Duration, capacity uint64) *CachedClient {
	cache := ttlcache.New[string, *model.Object](
		ttlcache.WithTTL[string, *model.Object](ttl),
		ttlcache.WithCapacity[string, *model.Object](capacity),
		ttlcache.WithDisableTouchOnHit[string, *model.Object](),
	)
	return &CachedClient{source: source, cache: cache}
}

// Start runs the expiry loop until Stop is called.
func (c *CachedClient) Start() {
	c.cache.Start()
}

// Stop ends the expiry loop.
func (c *CachedClient) Stop() {
	c.cache.Stop()
}

// GetModel implements Source.
func (c *CachedClient) GetModel(ctx context.Context, id string) (*model.Object, error) {
	if item := c.cache.Get(id); item != nil {
		metrics.ModelCacheRequests.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	metrics.ModelCacheRequests.WithLabelValues("miss").Inc()

	o, err := c.source.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, o, ttlcache.DefaultTTL)
	return o, nil
}

// ListModels implements Source.
func (c *CachedClient) ListModels(ctx context.Context) ([]model.Object, error) {
	return c.source.ListModels(ctx)
}

// Invalidate drops a cached model, e.g. after a new version was published.
func (c *CachedClient) Invalidate(id string) {
	c.cache.Delete(id)
}
