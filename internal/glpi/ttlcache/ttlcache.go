// Package ttlcache adapts infrastructure/cache into the namespace+sub-key
// model the GLPI engine's caching table requires (see the namespace table
// in the engine's data model notes): most namespaces carry no sub-key,
// a few are keyed by a second string (a tech id, a date window, a priority
// id). Composing namespace and sub-key into a single cache.Cache key keeps
// the generic cache package untouched while giving every engine component
// a typed, collision-free entry point.
package ttlcache

import (
	"context"
	"time"

	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/cache"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/logging"
	"github.com/jonathanmoletta17/glpi-dashboard-2025-sub000/infrastructure/metrics"
)

// Namespace is a closed enum of cache namespaces. Using a Go type instead of
// a bare string turns a typo'd namespace into a compile error instead of a
// silent cross-feature cache collision.
type Namespace string

const (
	DashboardMetrics         Namespace = "dashboard_metrics"
	DashboardMetricsFiltered Namespace = "dashboard_metrics_filtered"
	TechnicianRanking        Namespace = "technician_ranking"
	TechnicianMetrics        Namespace = "technician_metrics"
	FieldIDs                 Namespace = "field_ids"
	UserNames                Namespace = "user_names"
	PriorityNames            Namespace = "priority_names"
	CategoryNames            Namespace = "category_names"
	TechFieldID              Namespace = "tech_field_id"
)

// DefaultTTL returns each namespace's documented default TTL.
func DefaultTTL(ns Namespace) time.Duration {
	switch ns {
	case DashboardMetrics, DashboardMetricsFiltered:
		return 180 * time.Second
	case TechnicianRanking:
		return 300 * time.Second
	case TechnicianMetrics:
		return 3600 * time.Second
	case FieldIDs:
		return 1800 * time.Second
	case UserNames, PriorityNames, CategoryNames:
		return 3600 * time.Second
	case TechFieldID:
		// process-lifetime: an effectively unbounded TTL.
		return 365 * 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// Cache is the namespaced TTL cache every engine component shares.
type Cache struct {
	inner   *cache.Cache
	logger  *logging.Logger
	metrics *metrics.Metrics
	service string
}

// New builds a Cache backed by infrastructure/cache with the given cleanup interval.
func New(logger *logging.Logger, m *metrics.Metrics, service string, cleanupInterval time.Duration) *Cache {
	return &Cache{
		inner: cache.NewCache(cache.CacheConfig{
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: cleanupInterval,
		}),
		logger:  logger,
		metrics: m,
		service: service,
	}
}

// key always carries the namespace separator, even with an empty sub-key, so
// that InvalidateNamespace's prefix match can never cross into a different
// namespace that happens to share a string prefix (e.g. "dashboard_metrics"
// vs "dashboard_metrics_filtered").
func key(ns Namespace, sub string) string {
	return string(ns) + "|" + sub
}

func namespacePrefix(ns Namespace) string {
	return string(ns) + "|"
}

// Get returns a cached value for (namespace, sub-key). sub may be empty for
// namespaces with no sub-key. Returns ok=false on miss or expiry.
func (c *Cache) Get(ctx context.Context, ns Namespace, sub string) (interface{}, bool) {
	v, ok := c.inner.Get(key(ns, sub))
	if c.metrics != nil {
		if ok {
			c.metrics.RecordCacheHit(c.service, string(ns))
		} else {
			c.metrics.RecordCacheMiss(c.service, string(ns))
		}
	}
	if c.logger != nil {
		event := "miss"
		if ok {
			event = "hit"
		}
		c.logger.LogCacheEvent(ctx, string(ns), event)
	}
	return v, ok
}

// Set stores value under (namespace, sub-key) using the namespace's default
// TTL, unless ttl is explicitly provided (ttl > 0 overrides the default).
func (c *Cache) Set(ns Namespace, sub string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL(ns)
	}
	c.inner.Set(key(ns, sub), value, ttl)
}

// Invalidate removes a single (namespace, sub-key) entry. No query calls it;
// the administrative clear goes through InvalidateAll.
func (c *Cache) Invalidate(ns Namespace, sub string) {
	c.inner.Invalidate(key(ns, sub))
}

// InvalidateNamespace drops every entry under a namespace, including all its sub-keys.
func (c *Cache) InvalidateNamespace(ns Namespace) {
	c.inner.InvalidatePattern(namespacePrefix(ns))
}

// InvalidateAll clears the entire cache. Intended for administrative use only.
func (c *Cache) InvalidateAll() {
	c.inner.InvalidateAll()
}

// Size returns the number of live entries across all namespaces.
func (c *Cache) Size() int {
	return c.inner.Size()
}
