// Package resilience groups the failure-handling building blocks shared by
// the refresh scheduler, the self-healing supervisor and the text
// generation client.
//
//   - retry: an Executor runs an operation under a Policy (attempt budget,
//     linear or exponential backoff, optional cap and jitter) and always
//     ends in a Result envelope. Failed attempts and exhaustion are sent to
//     a Reporter.
//   - circuitbreaker: a named sony/gobreaker wrapper with state metrics.
//     IsRejection tells a tripped breaker apart from a failed call.
//
// A source fetch puts the breaker inside each retry attempt:
//
//	cb := circuitbreaker.New(circuitbreaker.SourceConfig("devto"))
//	exec := retry.New("fetch-devto", retry.SourceFetchPolicy(2*time.Second),
//	    retry.WithReporter(monitor.RetryReporter()))
//
//	res := retry.Execute(ctx, exec, func(ctx context.Context) ([]entity.NormalizedRecord, error) {
//	    return circuitbreaker.Run(cb, func() ([]entity.NormalizedRecord, error) {
//	        return fetch(ctx)
//	    })
//	})
//	if !res.Success {
//	    log.Warn("fetch failed", "attempts", res.Attempts, "error", res.Err)
//	}
package resilience
