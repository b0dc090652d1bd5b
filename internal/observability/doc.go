// Package observability groups structured logging, Prometheus metrics and
// OpenTelemetry tracing for the ingestion and monitoring core.
//
// Subpackages:
//   - logging: slog process logger and rotating per-concern journals
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry tracer, spans and HTTP middleware
package observability
