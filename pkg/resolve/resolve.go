package resolve

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// Source names where an effective value came from.
type Source string

const (
	// SourceUnavailable means the right is not available to the user; the
	// effective value is the default.
	SourceUnavailable Source = "unavailable"
	// SourceAuto means a rule matched and granted the value without any
	// stored assignment.
	SourceAuto Source = "auto"
	// SourceStored means a persisted assignment supplied the value.
	SourceStored Source = "stored"
	// SourceDefault means nothing was stored or matched.
	SourceDefault Source = "default"
)

// Resolution is the full answer for one (user, right) pair under one
// snapshot generation.
type Resolution struct {
	RightID      rights.ID      `json:"right_id"`
	Available    bool           `json:"available"`
	Values       []rights.Value `json:"available_values,omitempty"`
	Configurable bool           `json:"configurable"`
	Effective    rights.Value   `json:"effective_value"`
	Source       Source         `json:"source"`
}

type memoKey struct {
	generation uint64
	tenant     tenant.ID
	userID     int64
	rightID    rights.ID
}

const (
	defaultMemoSize = 8192
	defaultMemoTTL  = 5 * time.Minute
)

// Options configures a Resolver.
type Options struct {
	Registry *rights.Registry
	Caches   *membership.TenantCaches
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	// MemoSize and MemoTTL bound the resolution memo. Zero values pick the
	// defaults; the memo cannot be disabled because resolutions are pure
	// under a fixed snapshot generation.
	MemoSize int
	MemoTTL  time.Duration
}

// Resolver answers availability, configurability, and effective-value
// questions for (user, right) pairs. Answers are memoized per snapshot
// generation: a cache invalidation bumps the generation, which orphans every
// memoized entry without explicit eviction.
type Resolver struct {
	registry *rights.Registry
	caches   *membership.TenantCaches
	log      *observability.Logger
	metrics  *observability.Metrics
	memo     *expirable.LRU[memoKey, Resolution]
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = defaultMemoSize
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = defaultMemoTTL
	}
	return &Resolver{
		registry: opts.Registry,
		caches:   opts.Caches,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		memo:     expirable.NewLRU[memoKey, Resolution](opts.MemoSize, nil, opts.MemoTTL),
	}
}

// Resolve computes the full resolution for one (user, right) pair. An
// unregistered right returns rights.ErrUnknownRight: that is a configuration
// error and deliberately distinct from a right that exists but is not
// available to the user.
func (r *Resolver) Resolve(ctx context.Context, t tenant.ID, userID int64, rightID rights.ID) (Resolution, error) {
	def, err := r.registry.Get(rightID)
	if err != nil {
		return Resolution{}, err
	}

	cache := r.caches.Get(t)
	snap := cache.Snapshot(ctx)

	var generation uint64
	if snap != nil {
		generation = snap.Generation()
	}
	key := memoKey{generation: generation, tenant: t, userID: userID, rightID: rightID}

	if snap != nil {
		if res, ok := r.memo.Get(key); ok {
			r.countMemo(true)
			return res, nil
		}
		r.countMemo(false)
	}

	var subject rights.Subject
	if snap != nil {
		subject = snap.Subject(userID)
	} else {
		subject = cache.Subject(ctx, userID)
	}

	res := r.compute(def, subject, func() []rights.Value {
		if snap == nil {
			return nil
		}
		values := make([]rights.Value, 0, 1)
		for _, a := range snap.Assignments(userID) {
			if a.RightID == rightID && a.HasValue() {
				values = append(values, *a.Value)
			}
		}
		return values
	})

	if snap != nil {
		r.memo.Add(key, res)
	}
	if r.metrics != nil {
		r.metrics.ResolutionsTotal.WithLabelValues(string(t), string(res.Source)).Inc()
	}
	return res, nil
}

// compute runs the resolution rules against one subject. stored yields the
// persisted values for the right, lazily, because most resolutions never
// need them.
func (r *Resolver) compute(def rights.Definition, subject rights.Subject, stored func() []rights.Value) Resolution {
	res := Resolution{RightID: def.ID(), Effective: rights.DefaultValue, Source: SourceDefault}

	if !def.IsAvailable(subject) {
		res.Source = SourceUnavailable
		return res
	}
	res.Available = true
	res.Values = def.AvailableValues(subject)
	res.Configurable = def.IsConfigurable(subject)

	// An auto-granted value outranks anything stored: the rule holds by
	// membership alone and storage cannot take it away.
	for _, v := range res.Values {
		if def.Matches(subject, v) {
			res.Effective = v
			res.Source = SourceAuto
			return res
		}
	}

	for _, v := range stored() {
		if containsValue(res.Values, v) {
			res.Effective = v
			res.Source = SourceStored
			return res
		}
		// A stored value outside the reachable set is stale; the reconciler
		// heals it in storage, resolution just ignores it.
	}

	return res
}

// IsAvailable reports whether the right is available to the user.
func (r *Resolver) IsAvailable(ctx context.Context, t tenant.ID, userID int64, rightID rights.ID) (bool, error) {
	res, err := r.Resolve(ctx, t, userID, rightID)
	if err != nil {
		return false, err
	}
	return res.Available, nil
}

// AvailableValues returns the values the user can hold for the right.
func (r *Resolver) AvailableValues(ctx context.Context, t tenant.ID, userID int64, rightID rights.ID) ([]rights.Value, error) {
	res, err := r.Resolve(ctx, t, userID, rightID)
	if err != nil {
		return nil, err
	}
	return res.Values, nil
}

// IsConfigurable reports whether an administrator can meaningfully pick a
// value for the user.
func (r *Resolver) IsConfigurable(ctx context.Context, t tenant.ID, userID int64, rightID rights.ID) (bool, error) {
	res, err := r.Resolve(ctx, t, userID, rightID)
	if err != nil {
		return false, err
	}
	return res.Configurable, nil
}

// EffectiveValue returns the value the user actually holds for the right.
func (r *Resolver) EffectiveValue(ctx context.Context, t tenant.ID, userID int64, rightID rights.ID) (rights.Value, error) {
	res, err := r.Resolve(ctx, t, userID, rightID)
	if err != nil {
		return rights.DefaultValue, err
	}
	return res.Effective, nil
}

// ResolveAll resolves every registered right for one user, in registration
// order.
func (r *Resolver) ResolveAll(ctx context.Context, t tenant.ID, userID int64) ([]Resolution, error) {
	defs := r.registry.Ordered()
	out := make([]Resolution, 0, len(defs))
	for _, def := range defs {
		res, err := r.Resolve(ctx, t, userID, def.ID())
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Resolver) countMemo(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.ResolutionMemoHits.Inc()
	} else {
		r.metrics.ResolutionMemoMisses.Inc()
	}
}

func containsValue(values []rights.Value, v rights.Value) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
