package consumer

import (
	"context"
	"sync"
	"time"

	"alert-mailer/internal/database"
	"alert-mailer/internal/notification"
)

// FakeSubmitter records submitted notifications.
type FakeSubmitter struct {
	mu        sync.Mutex
	Submitted []notification.Notification
	Reject    bool
}

func (f *FakeSubmitter) Submit(n notification.Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Reject {
		return false
	}
	f.Submitted = append(f.Submitted, n)
	return true
}

// FakeNotifier records sends. SendFunc, when set, decides the result.
type FakeNotifier struct {
	mu       sync.Mutex
	Sent     []string
	SendErr  error
	SendFunc func(ctx context.Context, n notification.Notification) error
}

func (f *FakeNotifier) Send(ctx context.Context, n notification.Notification) error {
	if f.SendFunc != nil {
		if err := f.SendFunc(ctx, n); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, n.AlertID())
	return nil
}

func (f *FakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Sent...)
}

// FakeDeliveryLog stores records in memory.
type FakeDeliveryLog struct {
	mu        sync.Mutex
	Records   []database.DeliveryRecord
	RecordErr error
	// Hang makes writes block until ctx is done, like an unresponsive database.
	Hang bool
}

func (f *FakeDeliveryLog) RecordDelivery(ctx context.Context, rec database.DeliveryRecord) error {
	if f.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RecordErr != nil {
		return f.RecordErr
	}
	f.Records = append(f.Records, rec)
	return nil
}

func (f *FakeDeliveryLog) records() []database.DeliveryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.DeliveryRecord(nil), f.Records...)
}

// FakeMetrics counts recorder calls.
type FakeMetrics struct {
	mu              sync.Mutex
	Received        int
	Filtered        int
	Discarded       int
	Admitted        int
	Suppressed      int
	Sent            int
	Failed          int
	Dropped         int
	Reconnects      int
	TokensRemaining int
	QueueDepth      int
}

func (f *FakeMetrics) RecordReceived()            { f.inc(&f.Received) }
func (f *FakeMetrics) RecordFiltered()            { f.inc(&f.Filtered) }
func (f *FakeMetrics) RecordDiscarded()           { f.inc(&f.Discarded) }
func (f *FakeMetrics) RecordAdmitted()            { f.inc(&f.Admitted) }
func (f *FakeMetrics) RecordSuppressed()          { f.inc(&f.Suppressed) }
func (f *FakeMetrics) RecordSent(_ time.Duration) { f.inc(&f.Sent) }
func (f *FakeMetrics) RecordFailed()              { f.inc(&f.Failed) }
func (f *FakeMetrics) RecordDropped()             { f.inc(&f.Dropped) }
func (f *FakeMetrics) RecordReconnect()           { f.inc(&f.Reconnects) }

func (f *FakeMetrics) SetTokensRemaining(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TokensRemaining = n
}

func (f *FakeMetrics) SetQueueDepth(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueueDepth = n
}

func (f *FakeMetrics) inc(p *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*p++
}

// get reads a counter under the lock.
func (f *FakeMetrics) get(p *int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *p
}
