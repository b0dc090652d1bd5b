package alert

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-channel delivery metrics. Alert-level outcomes (sent, suppressed,
// disabled) live in observability/metrics.
var (
	channelDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_channel_dispatched_total",
			Help: "Total number of alert messages dispatched to a channel",
		},
		[]string{"channel"},
	)

	channelSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_channel_sent_total",
			Help: "Total number of alert messages sent per channel",
		},
		[]string{"channel", "status"}, // status: success|failure
	)

	channelDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_channel_duration_seconds",
			Help:    "Alert delivery duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"channel"},
	)

	channelDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_channel_dropped_total",
			Help: "Total number of dropped alert messages",
		},
		[]string{"channel", "reason"}, // reason: pool_full|circuit_open
	)

	channelBreakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_channel_circuit_breaker_open_total",
			Help: "Total number of channel circuit breaker open events",
		},
		[]string{"channel"},
	)

	activeDeliveries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_active_deliveries",
			Help: "Number of in-flight alert deliveries",
		},
	)

	channelsEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_channels_enabled",
			Help: "Number of enabled alert channels",
		},
	)
)

func recordDispatch(channel string) {
	channelDispatchedTotal.WithLabelValues(channel).Inc()
}

func recordSuccess(channel string, d time.Duration) {
	channelSentTotal.WithLabelValues(channel, "success").Inc()
	channelDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func recordFailure(channel string, d time.Duration) {
	channelSentTotal.WithLabelValues(channel, "failure").Inc()
	channelDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func recordDropped(channel, reason string) {
	channelDroppedTotal.WithLabelValues(channel, reason).Inc()
}

func recordBreakerOpen(channel string) {
	channelBreakerOpenTotal.WithLabelValues(channel).Inc()
}
