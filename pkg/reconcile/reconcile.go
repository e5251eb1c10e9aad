package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// DesiredAssignment is one (right, value) pair a caller wants persisted for a
// user.
type DesiredAssignment struct {
	RightID rights.ID    `json:"right_id"`
	Value   rights.Value `json:"value"`
}

// Result summarizes what one reconciliation batch did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Nulled  int `json:"nulled"`
	Skipped int `json:"skipped"`
}

func (r Result) changed() bool { return r.Created+r.Updated+r.Nulled > 0 }

// Invalidator is notified after a batch that changed rows. The membership
// Broadcaster satisfies it for multi-instance deployments; Local wraps the
// tenant caches for single-instance ones.
type Invalidator interface {
	Publish(ctx context.Context, id tenant.ID) error
}

// Local is an Invalidator that only expires in-process caches.
type Local struct {
	Caches *membership.TenantCaches
}

func (l Local) Publish(_ context.Context, id tenant.ID) error {
	l.Caches.Invalidate(id, "reconcile")
	return nil
}

// Reconciler converges a user's persisted right assignments to a desired set
// and heals rows whose stored value is no longer reachable for the user.
//
// Batches for the same user are serialized with a per-user lock; different
// users reconcile concurrently. Each batch that changes any row triggers
// exactly one cache invalidation.
type Reconciler struct {
	assignments store.AssignmentRepository
	registry    *rights.Registry
	caches      *membership.TenantCaches
	invalidator Invalidator
	log         *observability.Logger
	metrics     *observability.Metrics

	// locks holds one mutex per (tenant, user) pair ever reconciled and is
	// never reaped; it grows with the reconciled user population, not with
	// request volume.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options configures a Reconciler.
type Options struct {
	Assignments store.AssignmentRepository
	Registry    *rights.Registry
	Caches      *membership.TenantCaches
	Invalidator Invalidator
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// New creates a Reconciler. When no Invalidator is given, invalidation stays
// local to this process.
func New(opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Invalidator == nil {
		opts.Invalidator = Local{Caches: opts.Caches}
	}
	return &Reconciler{
		assignments: opts.Assignments,
		registry:    opts.Registry,
		caches:      opts.Caches,
		invalidator: opts.Invalidator,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		locks:       make(map[string]*sync.Mutex),
	}
}

// ReconcileUser converges one user's persisted assignments to the desired
// set:
//
//   - a desired pair with no persisted row and the default value is skipped,
//     absence already means the default;
//   - a desired pair with no persisted row and a non-default value creates
//     the row;
//   - a desired pair with a persisted row overwrites the stored value;
//   - after writing, the value is checked against what the right actually
//     makes reachable for the user; unreachable values are nulled in place;
//   - persisted rows not named by the batch are swept the same way, healing
//     rows stranded by membership changes.
//
// A desired right that is not registered fails the whole batch with
// rights.ErrUnknownRight before anything is written: that is a configuration
// error, not a per-user condition.
func (r *Reconciler) ReconcileUser(ctx context.Context, t tenant.ID, userID int64, desired []DesiredAssignment) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "reconcile.user",
		trace.WithAttributes(
			attribute.String("tenant", string(t)),
			attribute.Int64("user_id", userID),
			attribute.Int("desired", len(desired)),
		))
	defer span.End()

	var res Result

	// Validate the batch before taking the lock or writing anything.
	defs := make(map[rights.ID]rights.Definition, len(desired))
	for _, d := range desired {
		def, err := r.registry.Get(d.RightID)
		if err != nil {
			r.countBatch(t, "rejected")
			return res, fmt.Errorf("desired assignment %s: %w", d.RightID, err)
		}
		if !d.Value.Valid() {
			r.countBatch(t, "rejected")
			return res, fmt.Errorf("desired assignment %s: invalid value %d", d.RightID, d.Value)
		}
		defs[d.RightID] = def
	}

	unlock := r.lockUser(t, userID)
	defer unlock()

	cache := r.caches.Get(t)
	subject := cache.Subject(ctx, userID)

	existing, err := r.assignments.ListUserAssignments(ctx, t, userID)
	if err != nil {
		r.countBatch(t, "failed")
		return res, fmt.Errorf("failed to load assignments for user %d: %w", userID, err)
	}
	byRight := make(map[rights.ID]*store.Assignment, len(existing))
	for i := range existing {
		byRight[existing[i].RightID] = &existing[i]
	}

	started := time.Now()

	for _, d := range desired {
		def := defs[d.RightID]
		row, hadRow := byRight[d.RightID]
		delete(byRight, d.RightID)

		if !hadRow && d.Value == rights.DefaultValue {
			res.Skipped++
			continue
		}

		v := d.Value
		a := &store.Assignment{Tenant: t, UserID: userID, RightID: d.RightID, Value: &v}
		if hadRow {
			a.ID = row.ID
		}
		if err := r.assignments.Upsert(ctx, a); err != nil {
			r.countBatch(t, "failed")
			return res, fmt.Errorf("failed to upsert %s for user %d: %w", d.RightID, userID, err)
		}
		if hadRow {
			res.Updated++
			r.countRow(t, "update")
		} else {
			res.Created++
			r.countRow(t, "create")
		}

		// The write is only meaningful if the user can actually hold the
		// value. Membership may have changed since the caller decided on it.
		if !def.IsAvailable(subject) || !containsValue(def.AvailableValues(subject), d.Value) {
			if err := r.assignments.NullValue(ctx, a); err != nil {
				r.countBatch(t, "failed")
				return res, fmt.Errorf("failed to null %s for user %d: %w", d.RightID, userID, err)
			}
			res.Nulled++
			r.countRow(t, "null")
			r.log.WithTenant(string(t)).WithFields(map[string]interface{}{
				"user_id": userID,
				"right":   d.RightID.String(),
			}).Warn("nulled unreachable desired value")
		}
	}

	// Sweep rows the batch did not name. Rights that disappeared from the
	// registry or values stranded by membership changes get nulled here.
	for _, row := range byRight {
		if !row.HasValue() {
			continue
		}
		def, err := r.registry.Get(row.RightID)
		stale := err != nil ||
			!def.IsAvailable(subject) ||
			!containsValue(def.AvailableValues(subject), *row.Value)
		if !stale {
			continue
		}
		if err := r.assignments.NullValue(ctx, row); err != nil {
			r.countBatch(t, "failed")
			return res, fmt.Errorf("failed to null stale %s for user %d: %w", row.RightID, userID, err)
		}
		res.Nulled++
		r.countRow(t, "null")
	}

	if res.changed() {
		if err := r.invalidator.Publish(ctx, t); err != nil {
			// The rows are already written; a lost invalidation only delays
			// visibility until the TTL.
			r.log.WithError(err).WithTenant(string(t)).Warn("failed to broadcast invalidation")
		}
	}

	r.countBatch(t, "ok")
	if r.metrics != nil {
		r.metrics.ReconcileDuration.WithLabelValues(string(t)).Observe(time.Since(started).Seconds())
	}
	r.log.WithTenant(string(t)).WithFields(map[string]interface{}{
		"user_id": userID,
		"created": res.Created,
		"updated": res.Updated,
		"nulled":  res.Nulled,
		"skipped": res.Skipped,
	}).Info("assignment batch reconciled")

	return res, nil
}

func (r *Reconciler) lockUser(t tenant.ID, userID int64) func() {
	key := fmt.Sprintf("%s/%d", t, userID)

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (r *Reconciler) countBatch(t tenant.ID, status string) {
	if r.metrics != nil {
		r.metrics.ReconcileBatchesTotal.WithLabelValues(string(t), status).Inc()
	}
}

func (r *Reconciler) countRow(t tenant.ID, op string) {
	if r.metrics != nil {
		r.metrics.ReconcileRowsTotal.WithLabelValues(string(t), op).Inc()
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
