package membership

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// DefaultTTL is how long a snapshot is served before a read triggers a
// rebuild.
const DefaultTTL = time.Hour

// CacheOptions configures one tenant cache.
type CacheOptions struct {
	Tenant   tenant.ID
	Repos    store.Repositories
	Registry *rights.Registry
	TTL      time.Duration
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Cache serves membership and assignment lookups for one tenant from an
// immutable snapshot. Reads never block on a rebuild already holding the
// freshest published snapshot; expiry is checked lazily on access and
// concurrent rebuild attempts are coalesced.
//
// Lookup methods deliberately return no error: when no snapshot can be built
// the cache degrades to answering "not a member" / "no assignments" rather
// than failing its callers.
type Cache struct {
	tenant   tenant.ID
	repos    store.Repositories
	registry *rights.Registry
	ttl      time.Duration
	log      *observability.Logger
	metrics  *observability.Metrics
	clock    func() time.Time

	current    atomic.Pointer[Snapshot]
	expiresAt  atomic.Int64 // unix nanos; 0 forces a rebuild on next access
	epoch      atomic.Uint64
	generation atomic.Uint64
	rebuilds   singleflight.Group
}

// NewCache creates a cache for one tenant. No snapshot is built until the
// first read (or an explicit Refresh).
func NewCache(opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		tenant:   opts.Tenant,
		repos:    opts.Repos,
		registry: opts.Registry,
		ttl:      opts.TTL,
		log:      opts.Logger.WithTenant(string(opts.Tenant)),
		metrics:  opts.Metrics,
		clock:    opts.Clock,
	}
}

// Tenant returns the tenant this cache serves.
func (c *Cache) Tenant() tenant.ID { return c.tenant }

// Invalidate marks the current snapshot expired. It never blocks and never
// rebuilds; the next read pays for the rebuild.
func (c *Cache) Invalidate(origin string) {
	// The epoch lets an in-flight rebuild detect that its bulk reads predate
	// this invalidation, so it publishes without arming the TTL.
	c.epoch.Add(1)
	c.expiresAt.Store(0)
	if c.metrics != nil {
		c.metrics.InvalidationsTotal.WithLabelValues(string(c.tenant), origin).Inc()
	}
	c.log.WithField("origin", origin).Debug("membership cache invalidated")
}

// Expired reports whether the next read would trigger a rebuild.
func (c *Cache) Expired() bool {
	return c.clock().UnixNano() >= c.expiresAt.Load()
}

// Current returns the published snapshot without checking expiry or
// triggering a rebuild. It returns nil before the first successful build.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Snapshot returns a fresh-enough snapshot, rebuilding if the TTL elapsed or
// the cache was invalidated. If the rebuild fails the previous snapshot is
// returned so readers keep working on stale data; before any snapshot ever
// succeeded it returns nil.
func (c *Cache) Snapshot(ctx context.Context) *Snapshot {
	snap := c.current.Load()
	if snap != nil && c.clock().UnixNano() < c.expiresAt.Load() {
		return snap
	}

	fresh, err := c.refresh(ctx, "expiry")
	if err != nil {
		c.log.WithError(err).Error("membership snapshot rebuild failed, serving stale data")
		return snap
	}
	return fresh
}

// Refresh forces a rebuild regardless of expiry. Used by the warmer and by
// operational endpoints.
func (c *Cache) Refresh(ctx context.Context, trigger string) error {
	c.expiresAt.Store(0)
	_, err := c.refresh(ctx, trigger)
	return err
}

// refresh rebuilds the snapshot, coalescing concurrent callers. The double
// check inside the singleflight callback means latecomers who queued behind
// an in-flight rebuild reuse its result instead of rebuilding again.
func (c *Cache) refresh(ctx context.Context, trigger string) (*Snapshot, error) {
	v, err, _ := c.rebuilds.Do("rebuild", func() (interface{}, error) {
		if snap := c.current.Load(); snap != nil && c.clock().UnixNano() < c.expiresAt.Load() {
			return snap, nil
		}
		return c.rebuild(ctx, trigger)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) rebuild(ctx context.Context, trigger string) (*Snapshot, error) {
	ctx, span := observability.Tracer().Start(ctx, "membership.rebuild",
		trace.WithAttributes(
			attribute.String("tenant", string(c.tenant)),
			attribute.String("trigger", trigger),
		))
	defer span.End()

	started := c.clock()
	epoch := c.epoch.Load()

	users, err := c.repos.Users.ListUsers(ctx, c.tenant)
	if err != nil {
		c.recordRebuildFailure()
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	groups, err := c.repos.Groups.ListGroups(ctx, c.tenant)
	if err != nil {
		c.recordRebuildFailure()
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	assignments, err := c.repos.Assignments.ListAssignments(ctx, c.tenant)
	if err != nil {
		c.recordRebuildFailure()
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}

	gen := c.generation.Add(1)
	snap := buildSnapshot(gen, started, users, groups, assignments, c.registry, c.log)

	// Publish, then arm the expiry. A reader racing between the two stores
	// at worst rebuilds once more. If an Invalidate fired after our bulk
	// reads started, this snapshot may predate the change it announced: the
	// expiry stays at 0 so the very next read rebuilds again.
	c.current.Store(snap)
	c.expiresAt.Store(c.clock().Add(c.ttl).UnixNano())
	if c.epoch.Load() != epoch {
		c.expiresAt.Store(0)
	}

	elapsed := c.clock().Sub(started)
	if c.metrics != nil {
		c.metrics.ObserveRebuild(string(c.tenant), trigger, elapsed, len(users), len(groups))
	}
	c.log.WithFields(map[string]interface{}{
		"generation":   gen,
		"trigger":      trigger,
		"users":        len(users),
		"groups":       len(groups),
		"assignments":  len(assignments),
		"dropped_rows": snap.droppedRows,
		"duration_ms":  elapsed.Milliseconds(),
	}).Info("membership snapshot rebuilt")

	return snap, nil
}

func (c *Cache) recordRebuildFailure() {
	if c.metrics != nil {
		c.metrics.SnapshotRebuildFailures.WithLabelValues(string(c.tenant)).Inc()
	}
}

// IsMemberOfGroup reports whether the user belongs to the group by id.
func (c *Cache) IsMemberOfGroup(ctx context.Context, userID, groupID int64) bool {
	c.countCheck("group")
	snap := c.Snapshot(ctx)
	return snap != nil && snap.IsMemberOfGroup(userID, groupID)
}

// IsMemberOfAtLeastOneGroup reports whether the user belongs to any of the
// given groups.
func (c *Cache) IsMemberOfAtLeastOneGroup(ctx context.Context, userID int64, groupIDs ...int64) bool {
	c.countCheck("group")
	snap := c.Snapshot(ctx)
	if snap == nil {
		return false
	}
	for _, id := range groupIDs {
		if snap.IsMemberOfGroup(userID, id) {
			return true
		}
	}
	return false
}

// IsMemberOfSpecialGroup reports whether the user is in a reserved group.
func (c *Cache) IsMemberOfSpecialGroup(ctx context.Context, userID int64, kind SpecialGroup) bool {
	c.countCheck("special")
	snap := c.Snapshot(ctx)
	return snap != nil && snap.IsMemberOfSpecialGroup(userID, kind)
}

// IsAdmin reports membership in the administrators group.
func (c *Cache) IsAdmin(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialAdmin)
}

// IsFinance reports membership in the finance group.
func (c *Cache) IsFinance(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialFinance)
}

// IsControlling reports membership in the controlling group.
func (c *Cache) IsControlling(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialControlling)
}

// IsProjectManager reports membership in the project management group.
func (c *Cache) IsProjectManager(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialProjectManager)
}

// IsProjectAssistant reports membership in the project assistance group.
func (c *Cache) IsProjectAssistant(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialProjectAssistant)
}

// IsMarketing reports membership in the marketing group.
func (c *Cache) IsMarketing(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialMarketing)
}

// IsOrganization reports membership in the organization team group.
func (c *Cache) IsOrganization(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialOrganization)
}

// IsHR reports membership in the human resources group.
func (c *Cache) IsHR(ctx context.Context, userID int64) bool {
	return c.IsMemberOfSpecialGroup(ctx, userID, SpecialHR)
}

// GroupIDs returns the ids of every group the user belongs to.
func (c *Cache) GroupIDs(ctx context.Context, userID int64) []int64 {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return nil
	}
	set := snap.GroupIDs(userID)
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// User looks up a user record in the snapshot.
func (c *Cache) User(ctx context.Context, id int64) (store.User, bool) {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return store.User{}, false
	}
	return snap.User(id)
}

// Group looks up a group record in the snapshot.
func (c *Cache) Group(ctx context.Context, id int64) (store.Group, bool) {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return store.Group{}, false
	}
	return snap.Group(id)
}

// Assignments returns the user's indexed right assignments.
func (c *Cache) Assignments(ctx context.Context, userID int64) []store.Assignment {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return nil
	}
	return snap.Assignments(userID)
}

// Subject returns the rule-evaluation view of one user. When no snapshot is
// available the subject answers false to every membership question.
func (c *Cache) Subject(ctx context.Context, userID int64) rights.Subject {
	snap := c.Snapshot(ctx)
	if snap == nil {
		return emptySubject{userID: userID}
	}
	return snap.Subject(userID)
}

func (c *Cache) countCheck(kind string) {
	if c.metrics != nil {
		c.metrics.MembershipChecksTotal.WithLabelValues(string(c.tenant), kind).Inc()
	}
}
