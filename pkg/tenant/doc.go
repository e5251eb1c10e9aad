// Package tenant defines the tenant identifier that scopes every query,
// cache, and assignment row in the engine, and the context plumbing that
// carries it through a request.
package tenant
