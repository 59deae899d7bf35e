// Package metrics provides metrics recording interfaces for alert-mailer.
// It uses the null object pattern to avoid nil checks throughout the codebase.
package metrics

import "time"

// Recorder defines the interface for recording pipeline metrics.
type Recorder interface {
	// RecordReceived increments the count of messages read from the bus.
	RecordReceived()

	// RecordFiltered increments the count of messages dropped by the subscription filter.
	RecordFiltered()

	// RecordDiscarded increments the count of messages that failed to decode.
	RecordDiscarded()

	// RecordAdmitted increments the count of alerts that took a token.
	RecordAdmitted()

	// RecordSuppressed increments the count of alerts dropped by the rate limiter.
	RecordSuppressed()

	// RecordSent records a delivered notification with its delivery latency.
	RecordSent(latency time.Duration)

	// RecordFailed increments the count of notifications that could not be delivered.
	RecordFailed()

	// RecordDropped increments the count of notifications dropped on a full queue or at shutdown.
	RecordDropped()

	// RecordReconnect increments the count of broker reconnect attempts.
	RecordReconnect()

	// SetTokensRemaining reports the token bucket level.
	SetTokensRemaining(n int)

	// SetQueueDepth reports how many notifications wait for a worker.
	SetQueueDepth(n int)
}

// NoOp is a no-op implementation of Recorder that discards all metrics.
// Use this when metrics collection is not configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) RecordReceived()            {}
func (n *NoOp) RecordFiltered()            {}
func (n *NoOp) RecordDiscarded()           {}
func (n *NoOp) RecordAdmitted()            {}
func (n *NoOp) RecordSuppressed()          {}
func (n *NoOp) RecordSent(_ time.Duration) {}
func (n *NoOp) RecordFailed()              {}
func (n *NoOp) RecordDropped()             {}
func (n *NoOp) RecordReconnect()           {}
func (n *NoOp) SetTokensRemaining(_ int)   {}
func (n *NoOp) SetQueueDepth(_ int)        {}

// Ensure NoOp implements Recorder
var _ Recorder = (*NoOp)(nil)
