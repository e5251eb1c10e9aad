// Package observability bundles the engine's structured logging, Prometheus
// metrics, OpenTelemetry tracing, and health endpoints.
package observability
