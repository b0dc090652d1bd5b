// Package alert delivers operator notifications with per-type throttling and
// a scheduled digest. Delivery is asynchronous across every enabled channel.
package alert

import (
	"context"

	"techpulse/internal/infra/notifier"
)

// Channel is a notification delivery channel (email, Slack, Discord).
//
// Implementations handle their own rate limiting and retries and must be safe
// for concurrent use.
type Channel interface {
	// Name returns the channel identifier used in logs and metrics.
	Name() string

	// IsEnabled reports whether the channel should receive alerts.
	IsEnabled() bool

	// Send delivers one message. It must respect ctx cancellation.
	Send(ctx context.Context, msg notifier.Message) error
}

// notifierChannel adapts an infra notifier to Channel.
type notifierChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewChannel wraps n. A disabled channel is backed by a no-op notifier so
// callers never need nil checks.
func NewChannel(n notifier.Notifier, enabled bool) Channel {
	if !enabled {
		n = notifier.NewNoOpNotifier(n.Name())
	}
	return &notifierChannel{notifier: n, enabled: enabled}
}

// NewSlackChannel builds the Slack webhook channel.
func NewSlackChannel(cfg notifier.SlackConfig) Channel {
	return NewChannel(notifier.NewSlackNotifier(cfg), cfg.Enabled && cfg.WebhookURL != "")
}

// NewDiscordChannel builds the Discord webhook channel.
func NewDiscordChannel(cfg notifier.DiscordConfig) Channel {
	return NewChannel(notifier.NewDiscordNotifier(cfg), cfg.Enabled && cfg.WebhookURL != "")
}

// NewEmailChannel builds the SMTP channel.
func NewEmailChannel(cfg notifier.EmailConfig) Channel {
	return NewChannel(notifier.NewEmailNotifier(cfg), cfg.Enabled && cfg.Host != "" && len(cfg.To) > 0)
}

func (c *notifierChannel) Name() string    { return c.notifier.Name() }
func (c *notifierChannel) IsEnabled() bool { return c.enabled }

// Send validates msg and delegates to the wrapped notifier.
func (c *notifierChannel) Send(ctx context.Context, msg notifier.Message) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if msg.Subject == "" {
		return ErrInvalidMessage
	}
	return c.notifier.Send(ctx, msg)
}
