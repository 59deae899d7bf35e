// Package metrics collects process counters and periodically publishes them
// to Redis as a JSON snapshot under "metrics:<service>".
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for service metrics.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL is how long a snapshot stays in Redis if not refreshed.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing snapshots.
	DefaultReportInterval = 30 * time.Second
)

// ServiceName is the key suffix alert-mailer publishes its metrics under.
const ServiceName = "alert-mailer"

// Snapshot is the point-in-time view written to Redis.
type Snapshot struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesPublished uint64 `json:"messages_published"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	// MessagesPerSecond is the processed rate since the previous report.
	MessagesPerSecond      float64 `json:"messages_per_second"`
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
	Gauges         map[string]int64  `json:"gauges,omitempty"`
}

// Collector collects counters and gauges in memory and reports them to Redis.
// A nil Redis client keeps everything in memory only.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	// rate state, touched only by the reporting goroutine and GetSnapshot callers
	rateMu        sync.Mutex
	lastReport    time.Time
	lastProcessed uint64

	namedMu  sync.RWMutex
	counters map[string]*atomic.Uint64
	gauges   map[string]*atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector for a service.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		lastReport:     now,
		counters:       make(map[string]*atomic.Uint64),
		gauges:         make(map[string]*atomic.Int64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing snapshots. Call before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		c.reportInterval = interval
	}
}

// Start begins periodic reporting. A final snapshot is written when ctx is
// cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.publish(context.Background())
				return
			case <-c.stopCh:
				c.publish(context.Background())
				return
			case <-ticker.C:
				c.publish(ctx)
			}
		}
	}()
}

// Stop stops reporting and waits for the final write. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived increments the messages received counter.
func (c *Collector) RecordReceived() {
	c.received.Add(1)
}

// RecordProcessed increments the processed counter and tracks latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordPublished increments the messages published counter.
func (c *Collector) RecordPublished() {
	c.published.Add(1)
}

// RecordError increments the processing errors counter.
func (c *Collector) RecordError() {
	c.errors.Add(1)
}

// IncrementCustom increments a named counter.
func (c *Collector) IncrementCustom(name string) {
	c.counter(name).Add(1)
}

// AddCustom adds value to a named counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.counter(name).Add(value)
}

// SetGauge records the current value of a named gauge.
func (c *Collector) SetGauge(name string, value int64) {
	c.namedMu.RLock()
	g, ok := c.gauges[name]
	c.namedMu.RUnlock()

	if !ok {
		c.namedMu.Lock()
		if g, ok = c.gauges[name]; !ok {
			g = &atomic.Int64{}
			c.gauges[name] = g
		}
		c.namedMu.Unlock()
	}
	g.Store(value)
}

func (c *Collector) counter(name string) *atomic.Uint64 {
	c.namedMu.RLock()
	ctr, ok := c.counters[name]
	c.namedMu.RUnlock()
	if ok {
		return ctr
	}

	c.namedMu.Lock()
	defer c.namedMu.Unlock()
	if ctr, ok = c.counters[name]; !ok {
		ctr = &atomic.Uint64{}
		c.counters[name] = ctr
	}
	return ctr
}

// GetSnapshot returns current metrics without writing to Redis or
// advancing the rate window.
func (c *Collector) GetSnapshot() *Snapshot {
	now := time.Now().UTC()
	processed := c.processed.Load()

	c.rateMu.Lock()
	elapsed := now.Sub(c.lastReport).Seconds()
	lastProcessed := c.lastProcessed
	c.rateMu.Unlock()

	var rate float64
	if elapsed > 0 {
		rate = float64(processed-lastProcessed) / elapsed
	}

	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.namedMu.RLock()
	counters := make(map[string]uint64, len(c.counters))
	for name, ctr := range c.counters {
		counters[name] = ctr.Load()
	}
	gauges := make(map[string]int64, len(c.gauges))
	for name, g := range c.gauges {
		gauges[name] = g.Load()
	}
	c.namedMu.RUnlock()

	return &Snapshot{
		ServiceName:            c.serviceName,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 "healthy",
		MessagesReceived:       c.received.Load(),
		MessagesProcessed:      processed,
		MessagesPublished:      c.published.Load(),
		ProcessingErrors:       c.errors.Load(),
		MessagesPerSecond:      rate,
		AvgProcessingLatencyNs: avgLatencyNs,
		CustomCounters:         counters,
		Gauges:                 gauges,
	}
}

// publish writes the current snapshot to Redis and starts a new rate window.
func (c *Collector) publish(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.GetSnapshot()

	c.rateMu.Lock()
	c.lastReport = snap.LastUpdated
	c.lastProcessed = snap.MessagesProcessed
	c.rateMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := MetricsKeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, MetricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}
