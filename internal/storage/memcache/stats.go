// Package memcache provides in-process caches backed by go-cache.
package memcache

import (
	"time"

	goCache "github.com/patrickmn/go-cache"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

const statsKeyPrefix = "coupon_stats:"

var _ coupon.StatsCache = (*StatsCache)(nil)

// StatsCache keeps per-organization coupon statistics for a fixed TTL.
type StatsCache struct {
	cache *goCache.Cache
	ttl   time.Duration
}

// NewStatsCache returns a StatsCache whose entries live for ttl. Expired
// entries are swept every 2*ttl.
func NewStatsCache(ttl time.Duration) *StatsCache {
	return &StatsCache{
		cache: goCache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get returns the cached statistics of the organization.
func (c *StatsCache) Get(orgID string) (*coupon.Stats, bool) {
	v, ok := c.cache.Get(statsKeyPrefix + orgID)
	if !ok {
		return nil, false
	}
	st, ok := v.(*coupon.Stats)
	return st, ok
}

// Set caches the statistics of the organization.
func (c *StatsCache) Set(orgID string, st *coupon.Stats) {
	c.cache.Set(statsKeyPrefix+orgID, st, c.ttl)
}

// Invalidate drops the cached statistics of the organization.
func (c *StatsCache) Invalidate(orgID string) {
	c.cache.Delete(statsKeyPrefix + orgID)
}

// Flush drops every cached entry.
func (c *StatsCache) Flush() {
	c.cache.Flush()
}
