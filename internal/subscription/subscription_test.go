package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"alert-mailer/internal/events"
	"alert-mailer/internal/retry"
)

func fastBackoff() retry.Config {
	return retry.Config{
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		BackoffFactor:  2,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func receive(t *testing.T, c *collector) string {
	t.Helper()
	select {
	case body := <-c.got:
		return body
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Subscribed, "subscribed"},
		{Closed, "closed"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestConnect_FailsOverInOrder(t *testing.T) {
	transport := newFakeTransport()
	transport.setDown("b1:61613", true)

	s := New(transport, []string{"b1:61613", "b2:61613", "b3:61613"}, fastBackoff(), nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	dials := transport.dialLog()
	if len(dials) != 2 || dials[0] != "b1:61613" || dials[1] != "b2:61613" {
		t.Errorf("dials = %v, want b1 then b2", dials)
	}
	if s.Broker() != "b2:61613" {
		t.Errorf("Broker() = %q, want b2:61613", s.Broker())
	}
	if s.State() != Connecting {
		t.Errorf("State() = %v, want connecting until subscribed", s.State())
	}
}

func TestConnect_AllBrokersDown(t *testing.T) {
	transport := newFakeTransport()
	transport.setDown("b1:61613", true)
	transport.setDown("b2:61613", true)

	s := New(transport, []string{"b1:61613", "b2:61613"}, fastBackoff(), nil)
	err := s.Connect(context.Background())

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectionError", err)
	}
	if len(connErr.Brokers) != 2 {
		t.Errorf("Brokers = %v", connErr.Brokers)
	}
	if !errors.Is(err, errBrokerDown) {
		t.Error("ConnectionError should wrap the per-broker errors")
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestConnect_NoBrokers(t *testing.T) {
	s := New(newFakeTransport(), nil, fastBackoff(), nil)

	var connErr *ConnectionError
	if err := s.Connect(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectionError", err)
	}
}

func TestSubscribe_RequiresConnection(t *testing.T) {
	s := New(newFakeTransport(), []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	err := s.Subscribe(context.Background(), "notify", NotRepeat, c.onMessage, c.onError)

	var subErr *SubscriptionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Subscribe() error = %v, want *SubscriptionError", err)
	}
	if subErr.Topic != "notify" || !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscriptionError = %+v", subErr)
	}
}

func TestSubscribe_AfterConnect(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Subscribe(context.Background(), "notify", nil, c.onMessage, c.onError); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if s.State() != Subscribed {
		t.Errorf("State() = %v, want subscribed", s.State())
	}
	if st := transport.latest(); st == nil || st.topic != "notify" {
		t.Errorf("stream = %+v, want subscription on notify", st)
	}
}

func TestSubscribe_RejectedByBroker(t *testing.T) {
	transport := newFakeTransport()
	transport.subFail["b1:61613"] = true
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	err := s.Subscribe(context.Background(), "notify", nil, c.onMessage, c.onError)
	var subErr *SubscriptionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Subscribe() error = %v, want *SubscriptionError", err)
	}
}

func TestRun_DeliversAndFilters(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "notify", NotRepeat, c.onMessage, c.onError) }()

	waitFor(t, "subscription", func() bool { return s.State() == Subscribed })
	stream := transport.latest()

	stream.publish("first", nil)
	stream.publish("repeated", map[string]string{"repeat": "true"})
	stream.publish("second", map[string]string{"repeat": "false"})

	if got := receive(t, c); got != "first" {
		t.Errorf("first delivery = %q", got)
	}
	if got := receive(t, c); got != "second" {
		t.Errorf("second delivery = %q, repeat should be filtered", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if s.State() != Closed {
		t.Errorf("State() = %v, want closed", s.State())
	}
}

func TestRun_ReconnectsAfterDisconnect(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, []string{"b1:61613", "b2:61613"}, fastBackoff(), nil)
	c := newCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "notify", NotRepeat, c.onMessage, c.onError)

	waitFor(t, "first subscription", func() bool { return s.State() == Subscribed })
	first := transport.latest()
	first.publish("before", nil)
	if got := receive(t, c); got != "before" {
		t.Fatalf("delivery = %q", got)
	}

	// Both brokers go away, then the stream drops.
	transport.setDown("b1:61613", true)
	transport.setDown("b2:61613", true)
	first.fail(errors.New("connection reset by peer"))

	waitFor(t, "failed reconnect attempts", func() bool { return len(transport.dialLog()) >= 5 })
	if s.State() == Subscribed {
		t.Fatal("State() = subscribed while all brokers are down")
	}

	// Second broker comes back.
	transport.setDown("b2:61613", false)
	waitFor(t, "resubscription", func() bool { return transport.streamCount() == 2 && s.State() == Subscribed })

	second := transport.latest()
	if second.broker != "b2:61613" {
		t.Errorf("resubscribed on %q, want b2:61613", second.broker)
	}
	second.publish("after", nil)
	if got := receive(t, c); got != "after" {
		t.Errorf("delivery after reconnect = %q", got)
	}

	var connErr *ConnectionError
	errs := c.errorList()
	if len(errs) == 0 || !errors.As(errs[0], &connErr) {
		t.Errorf("onError got %v, want a ConnectionError for the lost connection", errs)
	}
}

func TestRun_RecoversHandlerPanic(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	handler := func(ctx context.Context, m Message) {
		if string(m.Body) == "boom" {
			panic("bad payload")
		}
		c.onMessage(ctx, m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "notify", nil, handler, c.onError)

	waitFor(t, "subscription", func() bool { return s.State() == Subscribed })
	stream := transport.latest()
	stream.publish("boom", nil)
	stream.publish("ok", nil)

	if got := receive(t, c); got != "ok" {
		t.Errorf("delivery = %q, want ok after panic", got)
	}
	errs := c.errorList()
	if len(errs) != 1 || !events.IsDecodeError(errs[0]) {
		t.Errorf("onError got %v, want one DecodeError", errs)
	}
	if transport.streamCount() != 1 {
		t.Errorf("streams = %d, a handler panic should not reconnect", transport.streamCount())
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "notify", nil, c.onMessage, c.onError)
	waitFor(t, "subscription", func() bool { return s.State() == Subscribed })

	if err := s.Run(ctx, "notify", nil, c.onMessage, c.onError); err == nil {
		t.Error("second Run() error = nil, want already running")
	}
}

func TestDisconnect_InterruptsRun(t *testing.T) {
	transport := newFakeTransport()
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), "notify", nil, c.onMessage, c.onError)
		close(done)
	}()
	waitFor(t, "subscription", func() bool { return s.State() == Subscribed })

	s.Disconnect()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect() did not interrupt the blocking receive")
	}

	s.Disconnect()
	if s.State() != Closed {
		t.Errorf("State() = %v, want closed", s.State())
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Disconnect error = %v, want ErrClosed", err)
	}
}

func TestDisconnect_IsNotReportedAsLostConnection(t *testing.T) {
	transport := newFakeTransport()
	transport.ignoreCtx = true
	recorder := &reconnectCounter{}
	s := New(transport, []string{"b1:61613"}, fastBackoff(), recorder)
	c := newCollector()

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), "notify", nil, c.onMessage, c.onError)
		close(done)
	}()
	waitFor(t, "subscription", func() bool { return s.State() == Subscribed })

	s.Disconnect()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect() did not interrupt the blocking receive")
	}

	if errs := c.errorList(); len(errs) != 0 {
		t.Errorf("onError calls = %v, want none on Disconnect", errs)
	}
	if n := recorder.n.Load(); n != 0 {
		t.Errorf("reconnects recorded = %d, want 0", n)
	}
}

func TestDisconnect_StopsReconnectLoop(t *testing.T) {
	transport := newFakeTransport()
	transport.setDown("b1:61613", true)
	s := New(transport, []string{"b1:61613"}, fastBackoff(), nil)
	c := newCollector()

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), "notify", nil, c.onMessage, c.onError)
		close(done)
	}()
	waitFor(t, "dial attempts", func() bool { return len(transport.dialLog()) >= 2 })

	s.Disconnect()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() kept retrying after Disconnect()")
	}
}

func TestDisconnect_BeforeConnect(t *testing.T) {
	s := New(newFakeTransport(), []string{"b1:61613"}, fastBackoff(), nil)
	s.Disconnect()
	s.Disconnect()
	if s.State() != Closed {
		t.Errorf("State() = %v, want closed", s.State())
	}
}
