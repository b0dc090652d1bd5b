package alert

import "errors"

// Sentinel errors for alert delivery.
var (
	// ErrChannelDisabled is returned by Send on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrInvalidMessage is returned for a message without a subject.
	ErrInvalidMessage = errors.New("invalid alert message")

	// ErrNotificationDropped indicates the worker pool stayed full.
	ErrNotificationDropped = errors.New("notification dropped due to pool saturation")

	// ErrCircuitBreakerOpen indicates the channel is paused after repeated failures.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open for this channel")
)
