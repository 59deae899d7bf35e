package metrics

import (
	"time"

	"alert-mailer/pkg/metrics"
)

// Custom counter names written under custom_counters.
const (
	CounterAdmitted   = "alerts_admitted"
	CounterSuppressed = "alerts_suppressed"
	CounterFiltered   = "alerts_filtered"
	CounterDiscarded  = "alerts_discarded"
	CounterSent       = "deliveries_sent"
	CounterFailed     = "deliveries_failed"
	CounterDropped    = "deliveries_dropped"
	CounterReconnects = "reconnects"

	GaugeTokensRemaining = "tokens_remaining"
	GaugeQueueDepth      = "queue_depth"
)

// CollectorAdapter adapts pkg/metrics.Collector to the Recorder interface.
type CollectorAdapter struct {
	collector *metrics.Collector
}

// NewCollectorAdapter wraps a metrics.Collector to implement Recorder.
func NewCollectorAdapter(collector *metrics.Collector) *CollectorAdapter {
	return &CollectorAdapter{collector: collector}
}

func (a *CollectorAdapter) RecordReceived() {
	a.collector.RecordReceived()
}

func (a *CollectorAdapter) RecordFiltered() {
	a.collector.IncrementCustom(CounterFiltered)
}

func (a *CollectorAdapter) RecordDiscarded() {
	a.collector.RecordError()
	a.collector.IncrementCustom(CounterDiscarded)
}

func (a *CollectorAdapter) RecordAdmitted() {
	a.collector.IncrementCustom(CounterAdmitted)
}

func (a *CollectorAdapter) RecordSuppressed() {
	a.collector.IncrementCustom(CounterSuppressed)
}

func (a *CollectorAdapter) RecordSent(latency time.Duration) {
	a.collector.RecordProcessed(latency)
	a.collector.RecordPublished()
	a.collector.IncrementCustom(CounterSent)
}

func (a *CollectorAdapter) RecordFailed() {
	a.collector.RecordError()
	a.collector.IncrementCustom(CounterFailed)
}

func (a *CollectorAdapter) RecordDropped() {
	a.collector.IncrementCustom(CounterDropped)
}

func (a *CollectorAdapter) RecordReconnect() {
	a.collector.IncrementCustom(CounterReconnects)
}

func (a *CollectorAdapter) SetTokensRemaining(n int) {
	a.collector.SetGauge(GaugeTokensRemaining, int64(n))
}

func (a *CollectorAdapter) SetQueueDepth(n int) {
	a.collector.SetGauge(GaugeQueueDepth, int64(n))
}

// Ensure CollectorAdapter implements Recorder
var _ Recorder = (*CollectorAdapter)(nil)
