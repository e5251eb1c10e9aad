package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
)

type fixture struct {
	store    *store.MemoryStore
	caches   *membership.TenantCaches
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := rights.NewRegistry(false, observability.NopLogger())
	reg.MustRegister(rights.NewBase("core.login", "core",
		[]rights.Value{rights.ValueFalse, rights.ValueTrue}, nil))
	reg.MustRegister(rights.NewGroupGated("finance.reports", "finance",
		[]rights.Value{rights.ValueFalse, rights.ValueReadOnly, rights.ValueReadWrite},
		[]string{"Finance"}, nil))
	// Controlling members can only ever hold READONLY: a single-value
	// restriction, so the value is auto-granted by membership alone.
	reg.MustRegister(rights.NewGroupGated("audit.view", "audit",
		[]rights.Value{rights.ValueFalse, rights.ValueReadOnly, rights.ValueReadWrite},
		[]string{"Controlling"}, nil).
		Restrict("Controlling", rights.ValueReadOnly))

	ms := store.NewMemoryStore()
	ms.PutUser("acme", store.User{ID: 1, DisplayName: "Alice"})
	ms.PutUser("acme", store.User{ID: 2, DisplayName: "Bob"})
	ms.PutGroup("acme", store.Group{ID: 10, Name: "Finance", MemberIDs: []int64{1}})
	ms.PutGroup("acme", store.Group{ID: 11, Name: "Controlling", MemberIDs: []int64{2}})

	caches := membership.NewTenantCaches(membership.CacheOptions{
		Repos:    ms.Repositories(),
		Registry: reg,
		Logger:   observability.NopLogger(),
	})

	return &fixture{
		store:  ms,
		caches: caches,
		resolver: New(Options{
			Registry: reg,
			Caches:   caches,
			Logger:   observability.NopLogger(),
		}),
	}
}

func (f *fixture) putAssignment(t *testing.T, userID int64, rightID rights.ID, v rights.Value) {
	t.Helper()
	if err := f.store.Upsert(context.Background(), &store.Assignment{
		Tenant: "acme", UserID: userID, RightID: rightID, Value: &v,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	f.caches.Invalidate("acme", "test")
}

func TestResolveUnknownRight(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), "acme", 1, "no.such.right")
	if !errors.Is(err, rights.ErrUnknownRight) {
		t.Fatalf("expected ErrUnknownRight, got %v", err)
	}
}

func TestResolveUnavailableRight(t *testing.T) {
	f := newFixture(t)

	// Bob is not in Finance.
	res, err := f.resolver.Resolve(context.Background(), "acme", 2, "finance.reports")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Available {
		t.Error("finance.reports must be unavailable to Bob")
	}
	if res.Effective != rights.DefaultValue || res.Source != SourceUnavailable {
		t.Errorf("expected default/unavailable, got %v/%v", res.Effective, res.Source)
	}
	if res.Configurable {
		t.Error("an unavailable right is never configurable")
	}
}

func TestResolveDefaultWhenNothingStored(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), "acme", 1, "finance.reports")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Available {
		t.Fatal("finance.reports must be available to Alice")
	}
	if res.Effective != rights.ValueFalse || res.Source != SourceDefault {
		t.Errorf("expected FALSE/default, got %v/%v", res.Effective, res.Source)
	}
	if !res.Configurable {
		t.Error("Alice can hold several values, the right is configurable")
	}
}

func TestResolveStoredValue(t *testing.T) {
	f := newFixture(t)
	f.putAssignment(t, 1, "finance.reports", rights.ValueReadOnly)

	res, err := f.resolver.Resolve(context.Background(), "acme", 1, "finance.reports")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Effective != rights.ValueReadOnly || res.Source != SourceStored {
		t.Errorf("expected READONLY/stored, got %v/%v", res.Effective, res.Source)
	}
}

func TestResolveAutoGrantOutranksStored(t *testing.T) {
	f := newFixture(t)

	// Bob's Controlling membership auto-grants READONLY on audit.view.
	res, err := f.resolver.Resolve(context.Background(), "acme", 2, "audit.view")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Effective != rights.ValueReadOnly || res.Source != SourceAuto {
		t.Errorf("expected READONLY/auto, got %v/%v", res.Effective, res.Source)
	}
	if res.Configurable {
		t.Error("a fully auto-granted right is not configurable")
	}
}

func TestResolveIgnoresStaleStoredValue(t *testing.T) {
	f := newFixture(t)

	// A READWRITE row written while Alice was in Finance; she then leaves.
	f.putAssignment(t, 1, "finance.reports", rights.ValueReadWrite)
	f.store.PutGroup("acme", store.Group{ID: 10, Name: "Finance", MemberIDs: []int64{}})
	f.caches.Invalidate("acme", "test")

	res, err := f.resolver.Resolve(context.Background(), "acme", 1, "finance.reports")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Available {
		t.Error("finance.reports must be unavailable after leaving the group")
	}
	if res.Effective != rights.DefaultValue {
		t.Errorf("the stale stored value must not leak through, got %v", res.Effective)
	}
}

func TestResolveMemoTracksGenerations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.resolver.Resolve(ctx, "acme", 1, "core.login"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := f.resolver.Resolve(ctx, "acme", 1, "core.login"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := f.resolver.memo.Len(); got != 1 {
		t.Errorf("expected one memo entry after repeated resolves, got %d", got)
	}

	// A new generation gets its own entry; the old one ages out of the LRU.
	f.caches.Invalidate("acme", "test")
	if _, err := f.resolver.Resolve(ctx, "acme", 1, "core.login"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := f.resolver.memo.Len(); got != 2 {
		t.Errorf("expected a second memo entry after invalidation, got %d", got)
	}
}

func TestResolveAllInRegistrationOrder(t *testing.T) {
	f := newFixture(t)

	all, err := f.resolver.ResolveAll(context.Background(), "acme", 1)
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	want := []rights.ID{"core.login", "finance.reports", "audit.view"}
	if len(all) != len(want) {
		t.Fatalf("expected %d resolutions, got %d", len(want), len(all))
	}
	for i, res := range all {
		if res.RightID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], res.RightID)
		}
	}
}
