package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"alert-mailer/internal/bucket"
	"alert-mailer/internal/database"
)

func alertBody(id string) []byte {
	return []byte(fmt.Sprintf(`{"uuid":%q,"source":"web01","event":"DiskFull","severity":"MAJOR","summary":"disk full"}`, id))
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{Admitted, "admitted"},
		{Suppressed, "suppressed"},
		{Discarded, "discarded"},
		{Filtered, "filtered"},
		{Outcome(7), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestConsumer_HandleMessage(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantOutcome   Outcome
		wantRemaining int
		wantSubmitted int
	}{
		{
			name:          "valid alert takes a token",
			body:          string(alertBody("a-1")),
			wantOutcome:   Admitted,
			wantRemaining: 4,
			wantSubmitted: 1,
		},
		{
			name:          "invalid json leaves bucket alone",
			body:          `{"uuid":`,
			wantOutcome:   Discarded,
			wantRemaining: 5,
		},
		{
			name:          "missing severity is discarded",
			body:          `{"uuid":"a-2"}`,
			wantOutcome:   Discarded,
			wantRemaining: 5,
		},
		{
			name:          "repeat alert is filtered",
			body:          `{"uuid":"a-3","severity":"MINOR","repeat":true}`,
			wantOutcome:   Filtered,
			wantRemaining: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bucket.New(5)
			sub := &FakeSubmitter{}
			m := &FakeMetrics{}
			c := New(b, sub, m)

			got := c.HandleMessage(context.Background(), []byte(tt.body))
			if got != tt.wantOutcome {
				t.Errorf("HandleMessage() = %v, want %v", got, tt.wantOutcome)
			}
			if b.Remaining() != tt.wantRemaining {
				t.Errorf("Remaining() = %d, want %d", b.Remaining(), tt.wantRemaining)
			}
			if len(sub.Submitted) != tt.wantSubmitted {
				t.Errorf("submitted = %d, want %d", len(sub.Submitted), tt.wantSubmitted)
			}
		})
	}
}

func TestConsumer_RateLimitScenario(t *testing.T) {
	// capacity 2: A1 and A2 go out with 1 and 0 tokens left, A3 is suppressed,
	// and after one refill A4 goes out with 0 left.
	b := bucket.New(2)
	sub := &FakeSubmitter{}
	m := &FakeMetrics{}
	c := New(b, sub, m)
	ctx := context.Background()

	steps := []struct {
		id   string
		want Outcome
	}{
		{"A1", Admitted},
		{"A2", Admitted},
		{"A3", Suppressed},
	}
	for _, s := range steps {
		if got := c.HandleMessage(ctx, alertBody(s.id)); got != s.want {
			t.Fatalf("HandleMessage(%s) = %v, want %v", s.id, got, s.want)
		}
	}

	b.Refill()
	if got := c.HandleMessage(ctx, alertBody("A4")); got != Admitted {
		t.Fatalf("HandleMessage(A4) = %v, want admitted", got)
	}

	wantTokens := map[string]int{"A1": 1, "A2": 0, "A4": 0}
	if len(sub.Submitted) != 3 {
		t.Fatalf("submitted = %d notifications, want 3", len(sub.Submitted))
	}
	for _, n := range sub.Submitted {
		want, ok := wantTokens[n.AlertID()]
		if !ok {
			t.Errorf("unexpected notification for %s", n.AlertID())
			continue
		}
		if n.TokensRemaining != want {
			t.Errorf("%s TokensRemaining = %d, want %d", n.AlertID(), n.TokensRemaining, want)
		}
	}

	if m.Admitted != 3 || m.Suppressed != 1 {
		t.Errorf("metrics admitted=%d suppressed=%d, want 3 and 1", m.Admitted, m.Suppressed)
	}
}

func TestConsumer_MetricsPerOutcome(t *testing.T) {
	b := bucket.New(1)
	m := &FakeMetrics{}
	c := New(b, &FakeSubmitter{}, m)
	ctx := context.Background()

	c.HandleMessage(ctx, alertBody("a-1"))
	c.HandleMessage(ctx, alertBody("a-2"))
	c.HandleMessage(ctx, []byte("not json"))
	c.HandleMessage(ctx, []byte(`{"uuid":"a-3","severity":"MINOR","repeat":true}`))

	if m.Admitted != 1 || m.Suppressed != 1 || m.Discarded != 1 || m.Filtered != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.TokensRemaining != 0 {
		t.Errorf("TokensRemaining gauge = %d, want 0", m.TokensRemaining)
	}
}

func TestConsumer_FailedDeliveryKeepsTokenSpent(t *testing.T) {
	b := bucket.New(3)
	notifier := &FakeNotifier{SendErr: errors.New("smtp: connection refused")}
	log := &FakeDeliveryLog{}
	d := NewDispatcher(notifier, log, nil, DispatcherConfig{Workers: 1, QueueSize: 4})
	d.Start()
	c := New(b, d, nil)

	if got := c.HandleMessage(context.Background(), alertBody("a-1")); got != Admitted {
		t.Fatalf("HandleMessage() = %v, want admitted", got)
	}
	d.Close(time.Second)

	if b.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2 after a failed delivery", b.Remaining())
	}
	recs := log.records()
	if len(recs) != 1 || recs[0].Status != database.StatusFailed {
		t.Fatalf("records = %+v, want one FAILED", recs)
	}
}

func TestConsumer_NilMetrics(t *testing.T) {
	c := New(bucket.New(1), &FakeSubmitter{}, nil)
	if got := c.HandleMessage(context.Background(), alertBody("a-1")); got != Admitted {
		t.Errorf("HandleMessage() = %v, want admitted", got)
	}
}
