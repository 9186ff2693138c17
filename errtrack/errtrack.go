// Package errtrack reports surfaced errors to an external error-tracking
// service (Sentry). Reporting is optional: a nil or disabled Reporter is
// a no-op, so callers never guard their capture calls.
package errtrack

import (
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"

	"github.com/lanternworks/stitch/types"
)

// Config controls error-tracking initialization.
type Config struct {
	// Enable toggles reporting. When false, Init returns a no-op Reporter.
	Enable bool
	// DSN is the Sentry project DSN. Required when Enable is true.
	DSN string
	// Environment tags captured events (e.g. "production", "test").
	Environment string
}

// Reporter forwards errors to the tracking service with record context.
// All methods are nil-receiver safe.
type Reporter struct {
	enabled bool
}

// Init initializes the error-tracking SDK and returns a Reporter.
// When cfg.Enable is false a disabled Reporter is returned without
// touching the SDK.
func Init(cfg Config) (*Reporter, error) {
	if !cfg.Enable {
		return &Reporter{}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("error tracking enabled but DSN is empty")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     "stitch@" + types.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init error tracking: %w", err)
	}

	return &Reporter{enabled: true}, nil
}

// CaptureRecordError reports a per-record failure with the record's
// source and external ID attached as tags.
func (r *Reporter) CaptureRecordError(err error, source types.SourceSystem, externalID string) {
	if r == nil || !r.enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("source", string(source))
		scope.SetTag("external_id", externalID)
		sentry.CaptureException(err)
	})
}

// CaptureCycleError reports a cycle-level failure with cycle identity tags.
func (r *Reporter) CaptureCycleError(err error, meta *types.CycleMeta) {
	if r == nil || !r.enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if meta != nil {
			scope.SetTag("cycle_id", meta.CycleID)
			scope.SetTag("source", string(meta.Source))
			scope.SetTag("org", meta.Org)
		}
		sentry.CaptureException(err)
	})
}

// Flush blocks until buffered events are delivered or the timeout elapses.
// Call before process exit.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(timeout)
}
