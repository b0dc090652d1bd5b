// Package notifier delivers operator messages to Slack, Discord and email.
package notifier

import (
	"context"
	"time"
)

// Severity levels understood by every channel's formatting.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Field is one labelled value rendered under the message body.
type Field struct {
	Name  string
	Value string
}

// Message is a channel-neutral operator notification.
type Message struct {
	Subject   string
	Body      string
	Severity  string
	Fields    []Field
	Timestamp time.Time
}

// Notifier sends a Message through one delivery channel.
type Notifier interface {
	// Name identifies the channel in logs and metrics
	Name() string

	// Send delivers the message, retrying transient failures internally
	Send(ctx context.Context, msg Message) error
}
