package bucket

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRefillInterval is how often the refiller adds a token.
const DefaultRefillInterval = 30 * time.Second

// RefillerState is the lifecycle state of a Refiller.
type RefillerState int

const (
	RefillerIdle RefillerState = iota
	RefillerRunning
	RefillerShuttingDown
	RefillerStopped
)

// String returns the state name used in logs.
func (s RefillerState) String() string {
	switch s {
	case RefillerIdle:
		return "idle"
	case RefillerRunning:
		return "running"
	case RefillerShuttingDown:
		return "shutting_down"
	case RefillerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Refiller periodically adds a token to a TokenBucket in a background goroutine.
type Refiller struct {
	bucket   *TokenBucket
	interval time.Duration

	mu     sync.Mutex
	state  RefillerState
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRefiller creates an idle refiller for the bucket.
// A non-positive interval falls back to DefaultRefillInterval.
func NewRefiller(b *TokenBucket, interval time.Duration) *Refiller {
	if interval <= 0 {
		interval = DefaultRefillInterval
	}
	return &Refiller{
		bucket:   b,
		interval: interval,
		state:    RefillerIdle,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the refill loop. Calling Start on a refiller that is not idle is a no-op.
func (r *Refiller) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RefillerIdle {
		return
	}
	r.state = RefillerRunning

	slog.Info("Starting token bucket refiller",
		"interval", r.interval,
		"capacity", r.bucket.Capacity(),
	)

	r.wg.Add(1)
	go r.loop()
}

// loop refills once per tick until stopCh is closed.
func (r *Refiller) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.bucket.Refill()
			slog.Debug("Added token to bucket", "tokens", r.bucket.Remaining())
		}
	}
}

// Stop signals the loop to exit and blocks until it has returned.
// Stopping an already stopped refiller is a no-op; stopping an idle one marks it stopped.
func (r *Refiller) Stop() {
	r.mu.Lock()
	switch r.state {
	case RefillerStopped, RefillerShuttingDown:
		r.mu.Unlock()
		r.wg.Wait()
		return
	case RefillerIdle:
		r.state = RefillerStopped
		close(r.stopCh)
		r.mu.Unlock()
		return
	}
	r.state = RefillerShuttingDown
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.state = RefillerStopped
	r.mu.Unlock()
	slog.Info("Token bucket refiller stopped")
}

// State returns the current lifecycle state.
func (r *Refiller) State() RefillerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
