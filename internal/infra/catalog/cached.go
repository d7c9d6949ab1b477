package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.BusinessContextProvider = (*Cached)(nil)

const cacheName = "business_context"

// Cached memoizes successful lookups. Sessions snapshot the profile, so a
// stale entry only affects calls that start within the TTL.
type Cached struct {
	next    port.BusinessContextProvider
	cache   port.Cache[*domain.BusinessContext]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCached wraps next with cache.
func NewCached(next port.BusinessContextProvider, cache port.Cache[*domain.BusinessContext], metrics *observability.Metrics, logger *zap.Logger) *Cached {
	return &Cached{next: next, cache: cache, metrics: metrics, logger: logger}
}

// Resolve returns a cached profile or delegates.
func (c *Cached) Resolve(ctx context.Context, identifier string) (*domain.BusinessContext, error) {
	if bc, ok := c.cache.Get(identifier); ok {
		c.metrics.IncrCacheHit(cacheName)
		copied := *bc
		return &copied, nil
	}
	c.metrics.IncrCacheMiss(cacheName)

	bc, err := c.next.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	c.cache.Set(identifier, bc)
	c.logger.Debug("business context cached",
		zap.String("identifier", identifier),
		zap.String("business_id", bc.BusinessID),
	)
	copied := *bc
	return &copied, nil
}
