// Package api exposes the entitlement engine over HTTP: the right catalog,
// per-user membership and resolution lookups, the assignment reconciliation
// endpoint, and cache invalidation controls. Every /v1 route is scoped to the
// tenant named by the X-Tenant header.
package api
