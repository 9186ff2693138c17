// Package adapter defines the downstream notification boundary.
//
// Adapters publish cycle completion notifications to downstream
// systems. The engine owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/lanternworks/stitch/types"
)

// CycleCompletedEvent is the payload published when a sync cycle finishes.
type CycleCompletedEvent struct {
	EventType  string `json:"event_type"` // always "cycle_completed"
	CycleID    string `json:"cycle_id"`
	Source     string `json:"source"`
	Org        string `json:"org"`
	Day        string `json:"day"`
	Synced     int    `json:"synced"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DryRun     bool   `json:"dry_run"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"` // ISO 8601
}

// NewCycleCompletedEvent builds the event for a finished cycle.
func NewCycleCompletedEvent(meta types.CycleMeta, summary types.CycleSummary, finishedAt time.Time) *CycleCompletedEvent {
	return &CycleCompletedEvent{
		EventType:  "cycle_completed",
		CycleID:    meta.CycleID,
		Source:     string(meta.Source),
		Org:        meta.Org,
		Day:        finishedAt.UTC().Format("2006-01-02"),
		Synced:     summary.Synced,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		DryRun:     meta.DryRun,
		DurationMs: summary.Duration.Milliseconds(),
		Timestamp:  finishedAt.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes cycle completion events to a downstream system.
type Adapter interface {
	// Publish sends a cycle completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *CycleCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
