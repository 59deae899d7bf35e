// Package report logs periodic delivery summaries from the delivery log.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alert-mailer/internal/database"
)

const queryTimeout = 10 * time.Second

// SecondOptional allows both 5-field and 6-field specs, plus descriptors
// such as @hourly and @every 15m.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Counter counts recorded deliveries by status.
type Counter interface {
	CountByStatus(ctx context.Context, since time.Time) (map[database.Status]int, error)
}

// Summary counts deliveries recorded at or after Since, as of Until.
type Summary struct {
	Since   time.Time
	Until   time.Time
	Sent    int
	Failed  int
	Dropped int
}

// Reporter runs Report on a cron schedule.
type Reporter struct {
	counts Counter
	cron   *cron.Cron
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New creates a reporter. The first summary covers the time since New.
func New(counts Counter, spec string) (*Reporter, error) {
	r := &Reporter{
		counts: counts,
		cron:   cron.New(cron.WithParser(parser)),
		now:    time.Now,
	}
	r.last = r.now()

	if _, err := r.cron.AddFunc(spec, func() {
		if _, err := r.Report(context.Background()); err != nil {
			slog.Warn("Failed to build delivery summary", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start begins running the schedule in its own goroutine.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop stops the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report logs and returns the counts since the previous report. The window
// only advances when the query succeeds.
func (r *Reporter) Report(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	until := r.now()
	counts, err := r.counts.CountByStatus(ctx, r.last)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Since:   r.last,
		Until:   until,
		Sent:    counts[database.StatusSent],
		Failed:  counts[database.StatusFailed],
		Dropped: counts[database.StatusDropped],
	}
	r.last = until

	slog.Info("Delivery summary",
		"since", s.Since.Format(time.RFC3339),
		"sent", s.Sent,
		"failed", s.Failed,
		"dropped", s.Dropped,
	)
	return s, nil
}
