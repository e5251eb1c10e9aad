// Package membership maintains per-tenant in-memory snapshots of user and
// group membership plus an index of persisted right assignments.
//
// Each tenant gets one Cache. A snapshot is immutable once built and is
// published with a single atomic pointer swap, so readers always see a
// consistent generation and never block on rebuilds. Expiry is checked lazily
// on access; Invalidate only flips the expiry so the next read rebuilds.
// Concurrent rebuild attempts are coalesced through singleflight, and a
// failed rebuild keeps the previous snapshot in service.
//
// Broadcaster propagates invalidations across instances over Redis pub/sub,
// and Warmer optionally refreshes expired snapshots on a cron schedule.
package membership
