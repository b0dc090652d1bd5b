package metrics

import (
	"time"
)

// RecordRefresh records the outcome of one refresh cycle.
func RecordRefresh(resource, result string, duration time.Duration) {
	RefreshRunsTotal.WithLabelValues(resource, result).Inc()
	if duration > 0 {
		RefreshDuration.WithLabelValues(resource).Observe(duration.Seconds())
	}
}

// UpdateCache reflects a newly published cache set.
func UpdateCache(resource string, records int, refreshedAt time.Time) {
	CachedRecords.WithLabelValues(resource).Set(float64(records))
	if !refreshedAt.IsZero() {
		CacheLastRefreshTimestamp.WithLabelValues(resource).Set(float64(refreshedAt.Unix()))
	}
}

// RecordSourceFetch records one source fetch including its retries.
func RecordSourceFetch(source string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	SourceFetchTotal.WithLabelValues(source, result).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRetryFailure records a failed attempt or an exhaustion report.
func RecordRetryFailure(operation, kind string) {
	RetryAttemptsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordEnrichment records a summary enrichment outcome.
func RecordEnrichment(result string) {
	EnrichmentsTotal.WithLabelValues(result).Inc()
}

// RecordError counts a classified error.
func RecordError(severity string) {
	ErrorsTotal.WithLabelValues(severity).Inc()
}

// RecordDiagnostic counts a diagnostic request outcome.
func RecordDiagnostic(result string) {
	DiagnosticsTotal.WithLabelValues(result).Inc()
}

// healthLevels maps a health status to its gauge value.
var healthLevels = map[string]float64{
	"healthy":   0,
	"degraded":  1,
	"unhealthy": 2,
}

// UpdateHealthComponent sets one component's health gauge.
func UpdateHealthComponent(component, status string) {
	level, ok := healthLevels[status]
	if !ok {
		level = healthLevels["unhealthy"]
	}
	HealthComponentStatus.WithLabelValues(component).Set(level)
}

// RecordHealthCheck records the duration of a full health check.
func RecordHealthCheck(duration time.Duration) {
	HealthCheckDuration.Observe(duration.Seconds())
}

// RecordAlert records whether an alert was sent, suppressed by the cooldown,
// or dropped because alerting is disabled.
func RecordAlert(alertType, result string) {
	AlertsTotal.WithLabelValues(alertType, result).Inc()
}

// RecordAlertDeliveryError counts a failed channel delivery.
func RecordAlertDeliveryError(channel string) {
	AlertDeliveryErrors.WithLabelValues(channel).Inc()
}

// RecordTaskRestart counts a supervised loop started again after a panic.
func RecordTaskRestart(task string) {
	TaskRestartsTotal.WithLabelValues(task).Inc()
}

// SetSupervisorState marks state as the current supervisor state.
func SetSupervisorState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		SupervisorState.WithLabelValues(s).Set(v)
	}
}
