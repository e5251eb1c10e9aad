// Package store is the persistence boundary of the entitlement engine. It
// owns the user, group, and right-assignment records and exposes them through
// narrow bulk-read and row-write interfaces; everything above it holds
// read-only copies.
//
// SQLStore runs the boundary on database/sql: PostgreSQL in production,
// in-memory SQLite in tests. MemoryStore is a map-backed implementation for
// tests and single-process demos.
//
// ListAssignments returns rows ordered by user id, but that is a courtesy for
// humans reading dumps — the snapshot builder groups rows by direct map
// insertion and does not depend on the ordering.
package store
