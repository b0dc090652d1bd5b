// Package tracing provides OpenTelemetry tracing integration.
//
// Refresh cycles, source fetches and health checks open internal spans;
// the operations router wraps every request in a server span and returns
// the trace ID in the X-Trace-Id header.
//
// Example usage:
//
//	shutdown := tracing.Setup()
//	defer shutdown(context.Background())
//
//	ctx, span := tracing.StartSpan(ctx, "refresh", attribute.String("resource", "news"))
//	defer tracing.EndSpan(span, err)
package tracing
