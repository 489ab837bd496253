// Package monitoring watches sync health and raises alerts when sessions or
// messages start failing.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/store"
)

// sessionScanLimit bounds how many recent sessions a snapshot inspects.
const sessionScanLimit = 10000

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Session metrics (within lookback window).
	SessionsTotal     int     `json:"sessions_total"`
	SessionsCompleted int     `json:"sessions_completed"`
	SessionsFailed    int     `json:"sessions_failed"`
	SessionsCancelled int     `json:"sessions_cancelled"`
	SessionsRunning   int     `json:"sessions_running"`
	SessionFailRate   float64 `json:"session_fail_rate"`

	// Message metrics summed over the sessions above.
	MessagesProcessed int     `json:"messages_processed"`
	MessagesImported  int     `json:"messages_imported"`
	MessagesDuplicate int     `json:"messages_duplicate"`
	MessageErrors     int     `json:"message_errors"`
	MessageErrorRate  float64 `json:"message_error_rate"`

	// DLQ depth across all accounts.
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the slice of the store the collector reads.
type Source interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.SyncSession, error)
	CountDeadLetters(ctx context.Context, accountToken string) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot of sync metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Sessions come back newest first, so stop at the first one outside the window.
	sessions, err := c.src.ListSessions(ctx, store.SessionFilter{Limit: sessionScanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}
	for _, s := range sessions {
		if s.StartedAt.Before(cutoff) {
			break
		}
		snap.SessionsTotal++
		switch s.Status {
		case model.SessionStatusCompleted:
			snap.SessionsCompleted++
		case model.SessionStatusFailed:
			snap.SessionsFailed++
		case model.SessionStatusCancelled:
			snap.SessionsCancelled++
		case model.SessionStatusRunning:
			snap.SessionsRunning++
		}
		snap.MessagesProcessed += s.Counters.Processed
		snap.MessagesImported += s.Counters.Imported
		snap.MessagesDuplicate += s.Counters.Duplicates
		snap.MessageErrors += s.Counters.Errors
	}

	if finished := snap.SessionsCompleted + snap.SessionsFailed; finished > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(finished)
	}
	if snap.MessagesProcessed > 0 {
		snap.MessageErrorRate = float64(snap.MessageErrors) / float64(snap.MessagesProcessed)
	}

	dlqCount, err := c.src.CountDeadLetters(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dead letters")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
