package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"alert-mailer/internal/metrics"
)

var errBrokerDown = errors.New("connection refused")

// fakeTransport simulates a set of brokers that can be taken up and down.
type fakeTransport struct {
	mu      sync.Mutex
	down    map[string]bool
	subFail map[string]bool
	dials   []string
	streams []*fakeStream
	// ignoreCtx makes streams return only when closed or failed.
	ignoreCtx bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{down: map[string]bool{}, subFail: map[string]bool{}}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, broker string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials = append(t.dials, broker)
	if t.down[broker] {
		return nil, errBrokerDown
	}
	return &fakeConn{transport: t, broker: broker}, nil
}

func (t *fakeTransport) setDown(broker string, down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down[broker] = down
}

func (t *fakeTransport) dialLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dials...)
}

// latest returns the most recently opened stream, or nil.
func (t *fakeTransport) latest() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}

func (t *fakeTransport) streamCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

type fakeConn struct {
	transport *fakeTransport
	broker    string

	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Subscribe(ctx context.Context, topic string) (Stream, error) {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	if c.transport.subFail[c.broker] {
		return nil, errors.New("subscribe rejected")
	}
	s := &fakeStream{broker: c.broker, topic: topic, msgs: make(chan Message, 16), done: make(chan struct{}), ignoreCtx: c.transport.ignoreCtx}
	c.transport.streams = append(c.transport.streams, s)
	return s, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeStream delivers queued messages until it is failed or closed.
type fakeStream struct {
	broker string
	topic  string
	msgs   chan Message

	once      sync.Once
	done      chan struct{}
	err       error
	ignoreCtx bool
}

func (s *fakeStream) Receive(ctx context.Context) (Message, error) {
	if s.ignoreCtx {
		select {
		case <-s.done:
			return Message{}, s.err
		case m := <-s.msgs:
			return m, nil
		}
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, s.err
	case m := <-s.msgs:
		return m, nil
	}
}

func (s *fakeStream) publish(body string, headers map[string]string) {
	s.msgs <- Message{Body: []byte(body), Headers: headers}
}

// fail simulates the broker dropping the connection.
func (s *fakeStream) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *fakeStream) Close() error {
	s.fail(errors.New("stream closed"))
	return nil
}

// collector gathers delivered messages and reported errors.
type collector struct {
	mu     sync.Mutex
	bodies []string
	errs   []error
	got    chan string
}

func newCollector() *collector {
	return &collector{got: make(chan string, 32)}
}

func (c *collector) onMessage(ctx context.Context, m Message) {
	c.mu.Lock()
	c.bodies = append(c.bodies, string(m.Body))
	c.mu.Unlock()
	c.got <- string(m.Body)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) errorList() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// reconnectCounter counts RecordReconnect calls.
type reconnectCounter struct {
	metrics.NoOp
	n atomic.Int32
}

func (r *reconnectCounter) RecordReconnect() { r.n.Add(1) }
