package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/store"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// fakeClock is a mutable time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.PutUser("acme", store.User{ID: 1, DisplayName: "Alice"})
	ms.PutUser("acme", store.User{ID: 2, DisplayName: "Bob"})
	ms.PutGroup("acme", store.Group{ID: 10, Name: "Finance", MemberIDs: []int64{1}})
	ms.PutGroup("acme", store.Group{ID: 11, Name: "Administrators", MemberIDs: []int64{2}})
	return ms
}

func newTestCache(t *testing.T, ms *store.MemoryStore, clock *fakeClock) *Cache {
	t.Helper()
	return NewCache(CacheOptions{
		Tenant:   "acme",
		Repos:    ms.Repositories(),
		Registry: testRegistry(t),
		TTL:      time.Hour,
		Logger:   observability.NopLogger(),
		Clock:    clock.Now,
	})
}

func TestCacheLazyBuildAndTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ms := seedStore(t)
	c := newTestCache(t, ms, clock)

	if c.Current() != nil {
		t.Fatal("no snapshot must exist before the first read")
	}

	if !c.IsMemberOfGroup(ctx, 1, 10) {
		t.Error("Alice is in Finance")
	}
	first := c.Current()
	if first == nil || first.Generation() != 1 {
		t.Fatalf("expected generation 1 after first read, got %+v", first)
	}

	// Within the TTL reads serve the same snapshot.
	clock.Advance(30 * time.Minute)
	c.IsMemberOfGroup(ctx, 1, 10)
	if got := c.Current().Generation(); got != 1 {
		t.Errorf("expected generation 1 within TTL, got %d", got)
	}

	// Past the TTL the next read rebuilds.
	clock.Advance(31 * time.Minute)
	c.IsMemberOfGroup(ctx, 1, 10)
	if got := c.Current().Generation(); got != 2 {
		t.Errorf("expected generation 2 after TTL, got %d", got)
	}
}

func TestCacheInvalidateForcesRebuild(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ms := seedStore(t)
	c := newTestCache(t, ms, clock)

	c.IsMemberOfGroup(ctx, 1, 10)
	if got := c.Current().Generation(); got != 1 {
		t.Fatalf("expected generation 1, got %d", got)
	}

	// A membership change alone is invisible until invalidation.
	ms.PutGroup("acme", store.Group{ID: 10, Name: "Finance", MemberIDs: []int64{1, 2}})
	if c.IsMemberOfGroup(ctx, 2, 10) {
		t.Error("stale snapshot must not see the new member yet")
	}

	c.Invalidate("test")
	if !c.IsMemberOfGroup(ctx, 2, 10) {
		t.Error("post-invalidation read must see the new member")
	}
	if got := c.Current().Generation(); got != 2 {
		t.Errorf("expected generation 2 after invalidation, got %d", got)
	}
}

func TestCacheServesStaleOnRebuildFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ms := seedStore(t)
	c := newTestCache(t, ms, clock)

	c.IsMemberOfGroup(ctx, 1, 10)
	stale := c.Current()

	ms.FailReads = true
	c.Invalidate("test")

	// The rebuild fails; the stale snapshot keeps answering.
	if !c.IsMemberOfGroup(ctx, 1, 10) {
		t.Error("stale snapshot must keep serving after a failed rebuild")
	}
	if c.Current() != stale {
		t.Error("failed rebuild must not replace the published snapshot")
	}

	// Recovery: once the store is back, the next read rebuilds.
	ms.FailReads = false
	c.IsMemberOfGroup(ctx, 1, 10)
	if got := c.Current().Generation(); got != 2 {
		t.Errorf("expected generation 2 after recovery, got %d", got)
	}
}

func TestCacheDegradesBeforeFirstBuild(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ms := seedStore(t)
	ms.FailReads = true
	c := newTestCache(t, ms, clock)

	// No snapshot was ever built: everything answers false / empty.
	if c.IsMemberOfGroup(ctx, 1, 10) {
		t.Error("no snapshot means no membership")
	}
	if c.IsAdmin(ctx, 2) {
		t.Error("no snapshot means no special membership")
	}
	if got := c.Assignments(ctx, 1); got != nil {
		t.Errorf("expected nil assignments, got %+v", got)
	}
	if _, ok := c.User(ctx, 1); ok {
		t.Error("expected no user record")
	}
	if c.Subject(ctx, 1).MemberOf("Finance") {
		t.Error("fallback subject must answer false")
	}
}

func TestCacheSpecialGroupPredicates(t *testing.T) {
	ctx := context.Background()
	ms := seedStore(t)
	c := newTestCache(t, ms, newFakeClock())

	if !c.IsAdmin(ctx, 2) || c.IsAdmin(ctx, 1) {
		t.Error("Bob is the only admin")
	}
	if !c.IsFinance(ctx, 1) || c.IsFinance(ctx, 2) {
		t.Error("Alice is the only finance member")
	}
	if c.IsHR(ctx, 1) || c.IsMarketing(ctx, 1) || c.IsControlling(ctx, 1) ||
		c.IsProjectManager(ctx, 1) || c.IsProjectAssistant(ctx, 1) || c.IsOrganization(ctx, 1) {
		t.Error("unseeded special groups must be empty")
	}
	if !c.IsMemberOfAtLeastOneGroup(ctx, 1, 99, 10) {
		t.Error("Alice is in group 10")
	}
	if c.IsMemberOfAtLeastOneGroup(ctx, 1, 98, 99) {
		t.Error("Alice is in neither group")
	}
}

func TestCacheConcurrentReadsAndInvalidations(t *testing.T) {
	ctx := context.Background()
	ms := seedStore(t)
	c := newTestCache(t, ms, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !c.IsMemberOfGroup(ctx, 1, 10) {
					t.Error("Alice must always be in Finance")
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			c.Invalidate("test")
		}
	}()
	wg.Wait()
}

// gatedAssignments delegates to the inner repository but parks ListAssignments
// (the rebuild's final bulk read) until released, so tests can interleave
// events with a rebuild that is mid-flight.
type gatedAssignments struct {
	inner   store.AssignmentRepository
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAssignments) ListAssignments(ctx context.Context, t tenant.ID) ([]store.Assignment, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.ListAssignments(ctx, t)
}

func (g *gatedAssignments) ListUserAssignments(ctx context.Context, t tenant.ID, userID int64) ([]store.Assignment, error) {
	return g.inner.ListUserAssignments(ctx, t, userID)
}

func (g *gatedAssignments) Upsert(ctx context.Context, a *store.Assignment) error {
	return g.inner.Upsert(ctx, a)
}

func (g *gatedAssignments) NullValue(ctx context.Context, a *store.Assignment) error {
	return g.inner.NullValue(ctx, a)
}

func TestCacheInvalidateDuringRebuildIsNotLost(t *testing.T) {
	ctx := context.Background()
	ms := seedStore(t)
	gate := &gatedAssignments{
		inner:   ms,
		entered: make(chan struct{}, 8),
		release: make(chan struct{}, 8),
	}
	c := NewCache(CacheOptions{
		Tenant:   "acme",
		Repos:    store.Repositories{Users: ms, Groups: ms, Assignments: gate},
		Registry: testRegistry(t),
		Logger:   observability.NopLogger(),
	})

	// First build runs straight through.
	gate.release <- struct{}{}
	if !c.IsMemberOfGroup(ctx, 1, 10) {
		t.Fatal("Alice is in Finance")
	}
	<-gate.entered

	c.Invalidate("test")

	// The next read starts a rebuild and parks inside the final bulk load.
	done := make(chan struct{})
	go func() {
		c.IsMemberOfGroup(ctx, 1, 10)
		close(done)
	}()
	<-gate.entered

	// While the rebuild is mid-flight, the data changes and an invalidation
	// fires. The in-flight rebuild loaded its groups before the change, so
	// its snapshot must not be trusted for a full TTL.
	ms.PutGroup("acme", store.Group{ID: 10, Name: "Finance", MemberIDs: []int64{1, 2}})
	c.Invalidate("test")

	close(gate.release)
	<-done

	if !c.IsMemberOfGroup(ctx, 2, 10) {
		t.Fatal("read after the racing invalidation served the pre-invalidate snapshot")
	}
	if got := c.Current().Generation(); got != 3 {
		t.Errorf("expected a third rebuild after the racing invalidation, got generation %d", got)
	}
}

func TestTenantCachesAreIndependent(t *testing.T) {
	ctx := context.Background()
	ms := seedStore(t)
	ms.PutUser("globex", store.User{ID: 1, DisplayName: "Hank"})
	ms.PutGroup("globex", store.Group{ID: 20, Name: "Marketing", MemberIDs: []int64{1}})

	tc := NewTenantCaches(CacheOptions{
		Repos:    ms.Repositories(),
		Registry: testRegistry(t),
		Logger:   observability.NopLogger(),
	})

	acme := tc.Get("acme")
	globex := tc.Get("globex")
	if acme == globex {
		t.Fatal("tenants must get distinct caches")
	}
	if tc.Get("acme") != acme {
		t.Fatal("repeated Get must return the same cache")
	}

	if !acme.IsMemberOfGroup(ctx, 1, 10) {
		t.Error("Alice is in acme's Finance")
	}
	if !globex.IsMarketing(ctx, 1) {
		t.Error("Hank is in globex's Marketing")
	}
	if globex.IsMemberOfGroup(ctx, 1, 10) {
		t.Error("acme's groups must not leak into globex")
	}

	// Invalidating one tenant leaves the other's generation alone.
	tc.Invalidate("acme", "test")
	acme.IsMemberOfGroup(ctx, 1, 10)
	if got := acme.Current().Generation(); got != 2 {
		t.Errorf("expected acme generation 2, got %d", got)
	}
	if got := globex.Current().Generation(); got != 1 {
		t.Errorf("expected globex generation 1, got %d", got)
	}

	// Unknown tenants are a no-op, not a panic.
	tc.Invalidate("unknown", "test")

	if got := len(tc.Tenants()); got != 2 {
		t.Errorf("expected 2 known tenants, got %d", got)
	}
}

func TestTenantCachesRefreshExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ms := seedStore(t)

	tc := NewTenantCaches(CacheOptions{
		Repos:    ms.Repositories(),
		Registry: testRegistry(t),
		TTL:      time.Hour,
		Logger:   observability.NopLogger(),
		Clock:    clock.Now,
	})

	c := tc.Get("acme")
	c.IsMemberOfGroup(ctx, 1, 10)

	// Fresh snapshot: the warmer leaves it alone.
	tc.RefreshExpired(ctx)
	if got := c.Current().Generation(); got != 1 {
		t.Errorf("expected generation 1 while fresh, got %d", got)
	}

	clock.Advance(2 * time.Hour)
	tc.RefreshExpired(ctx)
	if got := c.Current().Generation(); got != 2 {
		t.Errorf("expected generation 2 after warming, got %d", got)
	}
}
