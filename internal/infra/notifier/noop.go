package notifier

import (
	"context"
)

// NoOpNotifier accepts every message and sends nothing. It stands in for a
// disabled channel so callers never need nil checks.
type NoOpNotifier struct {
	name string
}

// NewNoOpNotifier creates a NoOpNotifier reporting the given name.
func NewNoOpNotifier(name string) *NoOpNotifier {
	return &NoOpNotifier{name: name}
}

// Name returns the configured channel name.
func (n *NoOpNotifier) Name() string {
	return n.name
}

// Send does nothing and returns nil.
func (n *NoOpNotifier) Send(ctx context.Context, msg Message) error {
	return nil
}
