// Package consumer turns raw alert messages into notifications, gated by the
// global token bucket, and hands them to a bounded pool of delivery workers.
package consumer

import (
	"context"

	"alert-mailer/internal/database"
	"alert-mailer/internal/notification"
)

// Submitter accepts admitted notifications for delivery.
type Submitter interface {
	// Submit queues n without blocking. Returns false if n was dropped.
	Submit(n notification.Notification) bool
}

// Notifier delivers one notification.
type Notifier interface {
	Send(ctx context.Context, n notification.Notification) error
}

// DeliveryLog stores the outcome of every delivery attempt.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, rec database.DeliveryRecord) error
}
