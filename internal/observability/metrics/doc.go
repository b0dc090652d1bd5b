// Package metrics provides the Prometheus metrics registry and recording helpers.
//
// Metrics are registered with the default registry via promauto and exposed
// by the operations router at /metrics. They cover:
//   - refresh cycles, per-source fetches, retries and circuit breakers
//   - classified errors and diagnostic requests
//   - health component status and alert decisions
//   - database supervisor state and heap usage
//
// Example usage:
//
//	start := time.Now()
//	set, err := scheduler.Refresh(ctx, entity.ResourceNews, true)
//	metrics.RecordRefresh("news", "success", time.Since(start))
package metrics
