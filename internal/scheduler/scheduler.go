// Package scheduler runs the daily reset: a coarse poller that watches for
// the calendar day to change, archives the closing day's report, and clears
// all volatile queue state.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/models"
	"github.com/guichetec/backend/internal/state"
)

// ReportSink receives the rollover snapshot. Implemented by the report store.
type ReportSink interface {
	Archive(ctx context.Context, report models.DailyReport) error
}

const archiveTimeout = 30 * time.Second

// DailyReset polls for day changes and resets the store when one occurs.
type DailyReset struct {
	store    *state.Store
	broker   *broker.Broker
	sink     ReportSink
	interval time.Duration
}

// New creates a DailyReset checking at the given interval.
func New(store *state.Store, b *broker.Broker, sink ReportSink, interval time.Duration) *DailyReset {
	return &DailyReset{store: store, broker: b, sink: sink, interval: interval}
}

// Run polls until the context is cancelled. There is a single poller, so the
// reset never races with itself; the store makes the day check and the clear
// one atomic step relative to in-flight ticket operations.
func (d *DailyReset) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Check()
		}
	}
}

// Check performs one day-boundary check. On a rollover the closing report is
// handed to the sink on a separate goroutine — a slow or failing archive
// write must never delay ticket handling — and the now-empty state is
// broadcast to every connection.
func (d *DailyReset) Check() {
	report, rolled := d.store.RolloverIfNewDay()
	if !rolled {
		return
	}

	slog.Info("daily reset", slog.Bool("report", report != nil))

	if report != nil && d.sink != nil {
		r := *report
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if err := d.sink.Archive(ctx, r); err != nil {
				slog.Error("failed to archive daily report",
					slog.String("date", r.Date), slog.Any("error", err))
			}
		}()
	}

	d.broker.Broadcast(broker.Event{Name: broker.EventQueuesUpdated, Data: d.store.Snapshot()})
}
