// Package notification defines the delivery-ready projection of an admitted alert.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alert-mailer/internal/events"
)

// Notification is an alert plus the token count observed when it was admitted.
// It is built once by the consumer and never mutated afterwards.
type Notification struct {
	Alert           events.Alert
	TokensRemaining int
	AdmittedAt      time.Time
}

// New copies alert into a Notification so later changes to the source cannot leak in.
func New(alert *events.Alert, tokensRemaining int) Notification {
	a := *alert
	a.Environment = append(events.Tags(nil), alert.Environment...)
	a.Service = append(events.Tags(nil), alert.Service...)
	a.Graphs = append([]string(nil), alert.Graphs...)
	a.Raw = append(json.RawMessage(nil), alert.Raw...)
	if alert.DuplicateCount != nil {
		n := *alert.DuplicateCount
		a.DuplicateCount = &n
	}

	return Notification{
		Alert:           a,
		TokensRemaining: tokensRemaining,
		AdmittedAt:      time.Now().UTC(),
	}
}

// AlertID returns the identifier of the underlying alert.
func (n Notification) AlertID() string {
	return n.Alert.ID
}

// Subject returns the line used as email subject and message title.
// Falls back to "<severity> <event> on <source>" when the alert has no summary.
func (n Notification) Subject() string {
	if n.Alert.Summary != "" {
		return n.Alert.Summary
	}
	return fmt.Sprintf("%s %s on %s", n.Alert.Severity, n.Alert.Event, n.Alert.Source)
}

// DeliveryError reports that a notification could not be delivered.
// It is always handled where delivery happens and never stops the consumer.
type DeliveryError struct {
	AlertID string
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("delivery of alert %s via %s failed: %v", e.AlertID, e.Channel, e.Err)
	}
	return fmt.Sprintf("delivery of alert %s failed: %v", e.AlertID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDeliveryError reports whether err is or wraps a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
