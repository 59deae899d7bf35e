// Package notifier routes admitted notifications to the configured delivery
// channels. It uses the strategy pattern to look up a channel by type.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"alert-mailer/internal/notification"
	"alert-mailer/internal/notifier/strategy"
)

// Notifier delivers a notification on a best-effort basis.
type Notifier interface {
	Send(ctx context.Context, n notification.Notification) error
}

// Multi sends every notification to all configured targets of all channels.
type Multi struct {
	registry *strategy.Registry
	routes   map[string][]string
}

// NewMulti creates a notifier that delivers to routes, a map of channel type
// to targets (recipient list or URL). Routes with no targets are ignored.
func NewMulti(registry *strategy.Registry, routes map[string][]string) *Multi {
	clean := make(map[string][]string)
	for channelType, targets := range routes {
		for _, target := range targets {
			if target = strings.TrimSpace(target); target != "" {
				clean[channelType] = append(clean[channelType], target)
			}
		}
	}
	return &Multi{registry: registry, routes: clean}
}

// Channels returns the channel types that have at least one target.
func (m *Multi) Channels() []string {
	var out []string
	for _, channelType := range m.registry.List() {
		if len(m.routes[channelType]) > 0 {
			out = append(out, channelType)
		}
	}
	return out
}

// Send delivers n to every route. Partial success counts as success; the
// failed targets are logged. It returns a DeliveryError when nothing was delivered.
func (m *Multi) Send(ctx context.Context, n notification.Notification) error {
	channels := m.Channels()
	if len(channels) == 0 {
		return &notification.DeliveryError{
			AlertID: n.AlertID(),
			Err:     fmt.Errorf("no delivery channels configured"),
		}
	}

	var errors []string
	var lastErr error
	lastChannel := ""
	successfulSends := 0

	for _, channelType := range channels {
		ch, ok := m.registry.Get(channelType)
		if !ok {
			continue
		}
		for _, target := range m.routes[channelType] {
			if err := ch.Send(ctx, target, n); err != nil {
				errors = append(errors, fmt.Sprintf("%s: %s", channelType, err.Error()))
				lastErr = err
				lastChannel = channelType
				continue
			}
			successfulSends++
		}
	}

	if successfulSends == 0 {
		if len(errors) == 1 {
			return &notification.DeliveryError{AlertID: n.AlertID(), Channel: lastChannel, Err: lastErr}
		}
		return &notification.DeliveryError{
			AlertID: n.AlertID(),
			Err:     fmt.Errorf("all sends failed: %s", strings.Join(errors, "; ")),
		}
	}

	if len(errors) > 0 {
		slog.Warn("Some sends failed",
			"alert_id", n.AlertID(),
			"successful", successfulSends,
			"failed", len(errors),
			"errors", strings.Join(errors, "; "),
		)
	}
	return nil
}
