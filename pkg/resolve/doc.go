// Package resolve is the read side of the entitlement engine: it combines
// the right definitions with the membership snapshot to answer what a user
// can hold, configure, and effectively has for each right. Auto-granted
// values outrank stored assignments, and stored values outside the reachable
// set are ignored until the reconciler heals them.
package resolve
