// Package reconcile is the write path for right assignments. It converges a
// user's persisted rows to a caller-supplied desired set, skips values that
// storage absence already expresses, heals rows whose stored value became
// unreachable after membership changes, and invalidates the membership cache
// once per changed batch.
package reconcile
