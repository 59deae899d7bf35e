package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"alert-mailer/internal/database"
	"alert-mailer/internal/metrics"
	"alert-mailer/internal/notification"
)

const (
	// DefaultWorkers is the number of delivery goroutines.
	DefaultWorkers = 4
	// DefaultQueueSize bounds how many admitted notifications may wait for a worker.
	DefaultQueueSize = 100
	// DefaultShutdownGrace is how long Close waits for in-flight deliveries.
	DefaultShutdownGrace = 10 * time.Second

	recordTimeout = 5 * time.Second
	// abandonTimeout bounds the wait for workers after deliveries are
	// cancelled. Delivery log writes made during that window share it.
	abandonTimeout = 5 * time.Second
)

var (
	errQueueFull    = errors.New("delivery queue is full")
	errShuttingDown = errors.New("dispatcher is shutting down")
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher delivers notifications on a fixed pool of workers fed by a
// bounded queue. Submit never blocks the consumer.
type Dispatcher struct {
	notifier Notifier
	log      DeliveryLog
	metrics  metrics.Recorder
	workers  int

	mu     sync.RWMutex
	queue  chan notification.Notification
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	abandonAfter time.Duration
	// shutdownCtx is set once grace expires; late log writes use its deadline.
	shutdownCtx context.Context

	startOnce sync.Once
}

// NewDispatcher creates a dispatcher. deliveryLog and m may be nil.
func NewDispatcher(n Notifier, deliveryLog DeliveryLog, m metrics.Recorder, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if m == nil {
		m = metrics.NewNoOp()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		notifier: n,
		log:      deliveryLog,
		metrics:  m,
		workers:  cfg.Workers,
		queue:    make(chan notification.Notification, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		abandonAfter: abandonTimeout,
	}
}

// Start launches the workers. Calling it again has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		slog.Info("Starting delivery workers", "workers", d.workers, "queue_size", cap(d.queue))
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.runWorker()
		}
	})
}

// Submit queues n for delivery. When the queue is full or the dispatcher is
// closed, n is dropped and reported as a DeliveryError. Drops at submit time
// are not written to the delivery log so the caller never waits on it.
func (d *Dispatcher) Submit(n notification.Notification) bool {
	if err := d.enqueue(n); err != nil {
		d.reject(n, err)
		return false
	}
	return true
}

func (d *Dispatcher) enqueue(n notification.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return errShuttingDown
	}
	select {
	case d.queue <- n:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		return errQueueFull
	}
}

// Close stops intake and waits up to grace for queued and in-flight
// deliveries. After grace, in-flight sends are cancelled and whatever is
// still queued is dropped. Workers whose sender ignores cancellation are
// abandoned after a further bounded wait, so Close always returns.
func (d *Dispatcher) Close(grace time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	// Workers that never started still have to drain the queue.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		slog.Info("Delivery workers stopped")
	case <-timer.C:
		slog.Warn("Shutdown grace period expired, cancelling deliveries",
			"grace", grace,
			"queued", len(d.queue),
		)
		shutdownCtx, stop := context.WithTimeout(context.Background(), d.abandonAfter)
		defer stop()
		d.mu.Lock()
		d.shutdownCtx = shutdownCtx
		d.mu.Unlock()

		d.cancel()
		select {
		case <-done:
			slog.Info("Delivery workers stopped")
		case <-shutdownCtx.Done():
			slog.Error("Delivery workers did not stop, abandoning them",
				"wait", d.abandonAfter,
				"queued", len(d.queue),
			)
		}
	}
	d.cancel()
}

func (d *Dispatcher) runWorker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		if d.ctx.Err() != nil {
			d.drop(n, errShuttingDown)
			continue
		}
		d.deliver(n)
	}
}

// deliver sends one notification and records the outcome. Failures are
// logged and never retried.
func (d *Dispatcher) deliver(n notification.Notification) {
	start := time.Now()
	err := d.notifier.Send(d.ctx, n)
	if err != nil {
		var de *notification.DeliveryError
		if !errors.As(err, &de) {
			err = &notification.DeliveryError{AlertID: n.AlertID(), Err: err}
		}
		slog.Error("Failed to deliver notification",
			"alert_id", n.AlertID(),
			"severity", n.Alert.Severity,
			"error", err,
		)
		d.metrics.RecordFailed()
		d.record(n, database.StatusFailed, err)
		return
	}

	d.metrics.RecordSent(time.Since(start))
	slog.Info("Delivered notification",
		"alert_id", n.AlertID(),
		"severity", n.Alert.Severity,
		"tokens_remaining", n.TokensRemaining,
		"latency", time.Since(n.AdmittedAt),
	)
	d.record(n, database.StatusSent, nil)
}

func (d *Dispatcher) reject(n notification.Notification, reason error) error {
	err := &notification.DeliveryError{AlertID: n.AlertID(), Err: reason}
	slog.Error("Dropping notification",
		"alert_id", n.AlertID(),
		"error", err,
	)
	d.metrics.RecordDropped()
	return err
}

func (d *Dispatcher) drop(n notification.Notification, reason error) {
	err := d.reject(n, reason)
	d.record(n, database.StatusDropped, err)
}

// record writes to the delivery log. Its failures are logged only.
func (d *Dispatcher) record(n notification.Notification, status database.Status, deliveryErr error) {
	if d.log == nil {
		return
	}
	rec := database.DeliveryRecord{
		AlertID:         n.AlertID(),
		Severity:        n.Alert.Severity,
		Source:          n.Alert.Source,
		Event:           n.Alert.Event,
		Summary:         n.Subject(),
		Environment:     n.Alert.Environment,
		Service:         n.Alert.Service,
		TokensRemaining: n.TokensRemaining,
		Status:          status,
		AdmittedAt:      n.AdmittedAt,
		DeliveredAt:     time.Now().UTC(),
	}
	if deliveryErr != nil {
		rec.Error = deliveryErr.Error()
	}

	ctx, cancel := d.recordContext()
	defer cancel()
	if err := d.log.RecordDelivery(ctx, rec); err != nil {
		slog.Warn("Failed to record delivery",
			"alert_id", n.AlertID(),
			"status", status,
			"error", err,
		)
	}
}

// recordContext bounds one delivery log write. After grace expires every
// write shares the shutdown deadline instead of getting its own.
func (d *Dispatcher) recordContext() (context.Context, context.CancelFunc) {
	d.mu.RLock()
	shutdownCtx := d.shutdownCtx
	d.mu.RUnlock()
	if shutdownCtx != nil {
		return shutdownCtx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(d.ctx), recordTimeout)
}
