package membership

import (
	"context"
	"sync"
	"time"

	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// TenantCaches lazily creates and hands out one Cache per tenant. Caches are
// fully independent: invalidating or rebuilding one tenant never touches
// another.
type TenantCaches struct {
	repos    store.Repositories
	registry *rights.Registry
	ttl      time.Duration
	log      *observability.Logger
	metrics  *observability.Metrics
	clock    func() time.Time

	mu     sync.Mutex
	caches map[tenant.ID]*Cache
}

// NewTenantCaches creates the per-tenant cache registry.
func NewTenantCaches(opts CacheOptions) *TenantCaches {
	return &TenantCaches{
		repos:    opts.Repos,
		registry: opts.Registry,
		ttl:      opts.TTL,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		caches:   make(map[tenant.ID]*Cache),
	}
}

// Get returns the cache for a tenant, creating it on first use.
func (t *TenantCaches) Get(id tenant.ID) *Cache {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.caches[id]
	if !ok {
		c = NewCache(CacheOptions{
			Tenant:   id,
			Repos:    t.repos,
			Registry: t.registry,
			TTL:      t.ttl,
			Logger:   t.log,
			Metrics:  t.metrics,
			Clock:    t.clock,
		})
		t.caches[id] = c
	}
	return c
}

// Invalidate expires one tenant's cache if it exists. Unknown tenants are a
// no-op: a cache that was never created has nothing stale to serve.
func (t *TenantCaches) Invalidate(id tenant.ID, origin string) {
	t.mu.Lock()
	c, ok := t.caches[id]
	t.mu.Unlock()
	if ok {
		c.Invalidate(origin)
	}
}

// InvalidateAll expires every known tenant cache.
func (t *TenantCaches) InvalidateAll(origin string) {
	for _, c := range t.snapshotCaches() {
		c.Invalidate(origin)
	}
}

// RefreshExpired rebuilds every known tenant cache whose TTL elapsed. Used by
// the background warmer so the first read after expiry does not pay for the
// rebuild.
func (t *TenantCaches) RefreshExpired(ctx context.Context) {
	for _, c := range t.snapshotCaches() {
		if !c.Expired() {
			continue
		}
		if err := c.Refresh(ctx, "warmer"); err != nil {
			t.log.WithError(err).WithTenant(string(c.Tenant())).Warn("background snapshot refresh failed")
		}
	}
}

// Tenants returns the tenants that currently have a cache.
func (t *TenantCaches) Tenants() []tenant.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]tenant.ID, 0, len(t.caches))
	for id := range t.caches {
		ids = append(ids, id)
	}
	return ids
}

func (t *TenantCaches) snapshotCaches() []*Cache {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Cache, 0, len(t.caches))
	for _, c := range t.caches {
		out = append(out, c)
	}
	return out
}
