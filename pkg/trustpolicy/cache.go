package trustpolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wardenhq/warden/pkg/observability"
)

// Provider serves trust policies by organization
type Provider interface {
	GetByOrganization(ctx context.Context, orgID int64) (*Policy, error)
}

// CachedProvider wraps a Provider with a TTL-bounded LRU cache so the
// enforcement path does not hit the database on every request. Absent
// policies are cached too.
type CachedProvider struct {
	source  Provider
	cache   *expirable.LRU[int64, *Policy]
	metrics *observability.Metrics
}

// NewCachedProvider creates a caching wrapper. A TTL of zero or less
// disables caching entirely and every call passes through to source.
func NewCachedProvider(source Provider, size int, ttl time.Duration, metrics *observability.Metrics) *CachedProvider {
	cp := &CachedProvider{source: source, metrics: metrics}
	if ttl > 0 {
		if size <= 0 {
			size = 1024
		}
		cp.cache = expirable.NewLRU[int64, *Policy](size, nil, ttl)
	}
	return cp
}

// GetByOrganization returns the organization's policy, consulting the
// cache first. Load failures are reported as ErrPolicyUnavailable so
// callers on enforcement paths deny rather than guess.
func (cp *CachedProvider) GetByOrganization(ctx context.Context, orgID int64) (*Policy, error) {
	if cp.cache != nil {
		if policy, ok := cp.cache.Get(orgID); ok {
			if cp.metrics != nil {
				cp.metrics.PolicyCacheHits.Inc()
			}
			return policy, nil
		}
		if cp.metrics != nil {
			cp.metrics.PolicyCacheMisses.Inc()
		}
	}

	policy, err := cp.source.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	if cp.cache != nil {
		cp.cache.Add(orgID, policy)
	}
	return policy, nil
}

// Invalidate drops the cached entry for an organization, forcing the next
// read through to the source. Used after policy writes.
func (cp *CachedProvider) Invalidate(orgID int64) {
	if cp.cache != nil {
		cp.cache.Remove(orgID)
	}
}
