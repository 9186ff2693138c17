// Package source defines the upstream fetch boundary.
//
// A Source queries one external system for records inside a date window.
// Filtering against the sync-state store happens in the engine; sources
// return everything the upstream reports for the window.
package source

import (
	"context"
	"time"

	"github.com/lanternworks/stitch/types"
)

// Window is the date range a fetch covers, inclusive on both ends.
type Window struct {
	Start time.Time
	End   time.Time
}

// LastDays returns a window covering the last n days up to now.
func LastDays(n int) Window {
	now := time.Now().UTC()
	return Window{
		Start: now.AddDate(0, 0, -n).Truncate(24 * time.Hour),
		End:   now,
	}
}

// Source fetches records from one external system.
type Source interface {
	// Name identifies the source system.
	Name() types.SourceSystem

	// FetchPending returns the records the upstream reports for the
	// window. Network and 5xx failures wrap types.ErrUpstreamUnavailable;
	// rejected credentials wrap types.ErrAuthFailure.
	FetchPending(ctx context.Context, window Window) ([]types.ExternalRecord, error)
}
