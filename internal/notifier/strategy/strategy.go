// Package strategy defines the interface for notification delivery channels.
package strategy

import (
	"context"
	"sort"

	"alert-mailer/internal/notification"
)

// Channel is the interface that all delivery channels must implement.
type Channel interface {
	// Send delivers a notification to the given target.
	// The target format depends on the channel type:
	//   - Email: email address(es) as comma-separated string
	//   - Slack: webhook URL
	//   - Webhook: webhook URL
	Send(ctx context.Context, target string, n notification.Notification) error

	// Type returns the channel type (e.g., "email", "slack", "webhook").
	Type() string
}

// Registry manages delivery channels by type.
type Registry struct {
	channels map[string]Channel
}

// NewRegistry creates a new channel registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

// Register registers a channel, replacing any channel of the same type.
func (r *Registry) Register(ch Channel) {
	r.channels[ch.Type()] = ch
}

// Get retrieves a channel by type.
func (r *Registry) Get(channelType string) (Channel, bool) {
	ch, ok := r.channels[channelType]
	return ch, ok
}

// List returns all registered channel types in sorted order.
func (r *Registry) List() []string {
	types := make([]string, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
