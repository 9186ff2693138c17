// Package engine orchestrates one sync cycle: fetch, filter, map, push,
// and record the outcome of every record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lanternworks/stitch/adapter"
	"github.com/lanternworks/stitch/archive"
	"github.com/lanternworks/stitch/crm"
	"github.com/lanternworks/stitch/errtrack"
	"github.com/lanternworks/stitch/log"
	"github.com/lanternworks/stitch/mapping"
	"github.com/lanternworks/stitch/metrics"
	"github.com/lanternworks/stitch/source"
	"github.com/lanternworks/stitch/spool"
	"github.com/lanternworks/stitch/state"
	"github.com/lanternworks/stitch/types"
)

// DefaultConcurrency is the default number of concurrent record workers.
const DefaultConcurrency = 4

// DefaultPushTimeout is the default per-push timeout.
const DefaultPushTimeout = 30 * time.Second

// DefaultLeaseTTL bounds how long a crashed cycle blocks its successor.
const DefaultLeaseTTL = 30 * time.Minute

// Config wires the engine's collaborators for one cycle.
type Config struct {
	// Meta identifies the cycle (required).
	Meta types.CycleMeta
	// Source fetches pending records (required).
	Source source.Source
	// Window is the fetch time window (required).
	Window source.Window
	// Mapper transforms records into CRM objects (required).
	Mapper mapping.Mapper
	// Pusher forwards mapped objects to the CRM. Required unless the
	// cycle is a dry run.
	Pusher crm.Pusher
	// Store persists per-record sync state (required).
	Store *state.Store
	// Archive persists raw fetched records. Optional; nil disables.
	Archive archive.Archiver
	// SpoolDir is where cycle spool files are written. Empty disables.
	SpoolDir string
	// Concurrency bounds concurrent record workers (default 4).
	Concurrency int
	// PushTimeout bounds each push call (default 30s).
	PushTimeout time.Duration
	// LeaseTTL bounds the cycle lease (default 30m).
	LeaseTTL time.Duration
	// Logger receives cycle logs. Optional.
	Logger *log.Logger
	// Collector accumulates cycle metrics. Optional.
	Collector *metrics.Collector
	// Reporter forwards errors to the tracking service. Optional.
	Reporter *errtrack.Reporter
	// Adapters receive the cycle completion event. Optional.
	Adapters []adapter.Adapter
}

// Engine runs sync cycles.
type Engine struct {
	cfg Config
}

// New validates the config and creates an engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Source == nil {
		return nil, errors.New("engine: source is required")
	}
	if cfg.Mapper == nil {
		return nil, errors.New("engine: mapper is required")
	}
	if cfg.Pusher == nil && !cfg.Meta.DryRun {
		return nil, errors.New("engine: pusher is required unless dry-run")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: state store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger(&cfg.Meta)
	}
	return &Engine{cfg: cfg}, nil
}

// disposition is the terminal state of one record within a cycle.
type disposition struct {
	record    types.ExternalRecord
	status    string // spool.DispositionSynced, ...Failed, ...Skipped
	retryable bool
	fatal     bool // auth failure: abort the cycle, leave records pending
	err       error
}

// RunCycle executes one full cycle and returns its summary.
//
// The cycle holds an exclusive lease for its duration; a concurrent
// cycle fails fast with state.ErrCycleInProgress. An auth failure on
// any push aborts the cycle and leaves unprocessed records pending.
func (e *Engine) RunCycle(ctx context.Context) (types.CycleSummary, error) {
	started := time.Now()
	meta := e.cfg.Meta
	logger := e.cfg.Logger

	if err := e.cfg.Store.AcquireLease(ctx, meta.CycleID, e.cfg.LeaseTTL); err != nil {
		return types.CycleSummary{}, err
	}
	defer func() {
		if err := e.cfg.Store.ReleaseLease(context.WithoutCancel(ctx), meta.CycleID); err != nil {
			logger.Warn("failed to release cycle lease", map[string]any{"error": err.Error()})
		}
	}()

	logger.Info("cycle started", map[string]any{
		"window_start": e.cfg.Window.Start.Format(time.RFC3339),
		"window_end":   e.cfg.Window.End.Format(time.RFC3339),
		"concurrency":  e.cfg.Concurrency,
	})

	fetched, err := e.cfg.Source.FetchPending(ctx, e.cfg.Window)
	if err != nil {
		e.cfg.Reporter.CaptureCycleError(err, &meta)
		return types.CycleSummary{}, fmt.Errorf("fetch from %s: %w", meta.Source, err)
	}
	e.cfg.Collector.AddFetched(len(fetched))
	logger.Info("records fetched", map[string]any{"count": len(fetched)})

	e.archiveRecords(ctx, fetched)

	sp := e.openSpool()
	if sp != nil {
		defer func() {
			if err := sp.Close(); err != nil {
				logger.Warn("failed to close spool", map[string]any{"error": err.Error()})
			}
		}()
	}

	// Administrative records never reach the state store.
	var actionable []types.ExternalRecord
	summary := types.CycleSummary{Fetched: len(fetched)}
	for _, rec := range fetched {
		if rec.Kind == types.KindSkip {
			summary.Skipped++
			e.spoolRecord(sp, rec, spool.DispositionSkipped, "administrative record")
			continue
		}
		actionable = append(actionable, rec)
	}

	eligible, dropped, err := e.cfg.Store.FilterPending(ctx, actionable)
	if err != nil {
		e.cfg.Reporter.CaptureCycleError(err, &meta)
		return types.CycleSummary{}, fmt.Errorf("filter pending: %w", err)
	}
	summary.Skipped += dropped
	e.cfg.Collector.AddFiltered(dropped)
	e.spoolFiltered(sp, actionable, eligible)
	logger.Info("records eligible", map[string]any{
		"eligible": len(eligible),
		"filtered": dropped,
	})

	outcomes, fatalErr := e.processAll(ctx, eligible)
	for _, out := range outcomes {
		switch out.status {
		case spool.DispositionSynced:
			summary.Synced++
		case spool.DispositionSkipped:
			summary.Skipped++
		case spool.DispositionFailed:
			summary.Failed++
			if out.retryable {
				summary.Retryable++
			} else {
				summary.Permanent++
			}
		}
		msg := ""
		if out.err != nil {
			msg = out.err.Error()
		}
		e.spoolRecord(sp, out.record, out.status, msg)
	}
	summary.Duration = time.Since(started)

	logger.Info("cycle finished", map[string]any{
		"fetched":  summary.Fetched,
		"synced":   summary.Synced,
		"failed":   summary.Failed,
		"skipped":  summary.Skipped,
		"duration": summary.Duration.String(),
	})

	if fatalErr != nil {
		e.cfg.Reporter.CaptureCycleError(fatalErr, &meta)
		return summary, fatalErr
	}

	e.publish(ctx, summary)
	return summary, nil
}

// processAll runs the bounded worker pool over eligible records. An
// auth failure cancels outstanding work; records the workers never
// reached stay pending in the state store.
func (e *Engine) processAll(ctx context.Context, records []types.ExternalRecord) ([]disposition, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan types.ExternalRecord)
	results := make(chan disposition, len(records))

	var wg sync.WaitGroup
	for range e.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range work {
				if workCtx.Err() != nil {
					continue
				}
				out := e.processRecord(workCtx, rec)
				if out.fatal {
					cancel()
				}
				results <- out
			}
		}()
	}

	for _, rec := range records {
		work <- rec
	}
	close(work)
	wg.Wait()
	close(results)

	var outcomes []disposition
	var fatalErr error
	for out := range results {
		if out.fatal {
			if fatalErr == nil {
				fatalErr = out.err
			}
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, fatalErr
}

// processRecord maps and pushes one record and persists its outcome.
func (e *Engine) processRecord(ctx context.Context, rec types.ExternalRecord) disposition {
	logger := e.cfg.Logger

	mapped, err := e.cfg.Mapper.Map(rec)
	if err != nil {
		e.cfg.Collector.IncMapFailure()
		e.cfg.Reporter.CaptureRecordError(err, rec.Source, rec.ExternalID)
		logger.Warn("mapping failed", map[string]any{
			"external_id": rec.ExternalID,
			"error":       err.Error(),
		})
		e.markFailed(ctx, rec, false, err)
		return disposition{record: rec, status: spool.DispositionFailed, retryable: false, err: err}
	}
	e.cfg.Collector.IncMapSuccess()

	if e.cfg.Meta.DryRun {
		logger.Info("dry-run mapped", map[string]any{
			"external_id": rec.ExternalID,
			"objects":     len(mapped.Objects),
		})
		return disposition{record: rec, status: spool.DispositionSkipped}
	}

	for _, obj := range mapped.Objects {
		if err := e.push(ctx, obj); err != nil {
			switch {
			case errors.Is(err, types.ErrAuthFailure):
				// Credentials are dead for every remaining record.
				// This record stays pending and is retried next cycle.
				return disposition{record: rec, fatal: true, err: err}
			case types.IsRetryable(err):
				e.cfg.Collector.IncPushRetryable()
				e.cfg.Reporter.CaptureRecordError(err, rec.Source, rec.ExternalID)
				logger.Warn("push failed, will retry next cycle", map[string]any{
					"external_id": rec.ExternalID,
					"sobject":     obj.SObject,
					"error":       err.Error(),
				})
				e.markFailed(ctx, rec, true, err)
				return disposition{record: rec, status: spool.DispositionFailed, retryable: true, err: err}
			default:
				e.cfg.Collector.IncPushPermanent()
				e.cfg.Reporter.CaptureRecordError(err, rec.Source, rec.ExternalID)
				logger.Error("push failed permanently", map[string]any{
					"external_id": rec.ExternalID,
					"sobject":     obj.SObject,
					"error":       err.Error(),
				})
				e.markFailed(ctx, rec, false, err)
				return disposition{record: rec, status: spool.DispositionFailed, retryable: false, err: err}
			}
		}
	}

	if err := e.cfg.Store.MarkSynced(ctx, rec.Source, rec.ExternalID); err != nil {
		e.cfg.Collector.IncStateWriteFailure()
		logger.Error("failed to mark record synced", map[string]any{
			"external_id": rec.ExternalID,
			"error":       err.Error(),
		})
	}
	return disposition{record: rec, status: spool.DispositionSynced}
}

// push forwards one object with the per-push timeout applied.
func (e *Engine) push(ctx context.Context, obj types.MappedObject) error {
	e.cfg.Collector.IncPushAttempted()
	pushCtx, cancel := context.WithTimeout(ctx, e.cfg.PushTimeout)
	defer cancel()

	err := e.cfg.Pusher.Push(pushCtx, obj)
	if err == nil {
		e.cfg.Collector.IncPushSucceeded()
		return nil
	}
	// A deadline here is the remote hanging, not a schema problem.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("push %s timed out after %s: %w", obj.SObject, e.cfg.PushTimeout, types.ErrUpstreamUnavailable)
	}
	return err
}

func (e *Engine) markFailed(ctx context.Context, rec types.ExternalRecord, retryable bool, cause error) {
	if err := e.cfg.Store.MarkFailed(ctx, rec.Source, rec.ExternalID, retryable, cause.Error()); err != nil {
		e.cfg.Collector.IncStateWriteFailure()
		e.cfg.Logger.Error("failed to mark record failed", map[string]any{
			"external_id": rec.ExternalID,
			"error":       err.Error(),
		})
	}
}

// archiveRecords persists the raw fetch batch. Archive failures never
// fail the cycle.
func (e *Engine) archiveRecords(ctx context.Context, records []types.ExternalRecord) {
	if e.cfg.Archive == nil || len(records) == 0 {
		return
	}
	if err := e.cfg.Archive.WriteRecords(ctx, e.cfg.Meta, records); err != nil {
		e.cfg.Collector.IncArchiveFailure()
		e.cfg.Reporter.CaptureCycleError(err, &e.cfg.Meta)
		e.cfg.Logger.Warn("archive write failed", map[string]any{"error": err.Error()})
		return
	}
	e.cfg.Collector.IncArchiveSuccess()
}

// guardedSpool serializes spool writes from concurrent workers.
type guardedSpool struct {
	mu   sync.Mutex
	file *spool.File
}

func (g *guardedSpool) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.file.Close()
}

func (e *Engine) openSpool() *guardedSpool {
	if e.cfg.SpoolDir == "" {
		return nil
	}
	f, err := spool.Create(e.cfg.SpoolDir, e.cfg.Meta.CycleID)
	if err != nil {
		e.cfg.Collector.IncSpoolFailure()
		e.cfg.Logger.Warn("failed to create spool file", map[string]any{"error": err.Error()})
		return nil
	}
	return &guardedSpool{file: f}
}

func (e *Engine) spoolRecord(sp *guardedSpool, rec types.ExternalRecord, status, errMsg string) {
	if sp == nil {
		return
	}
	sp.mu.Lock()
	err := sp.file.Write(spool.Envelope(e.cfg.Meta, rec, status, errMsg))
	sp.mu.Unlock()
	if err != nil {
		e.cfg.Collector.IncSpoolFailure()
		e.cfg.Logger.Warn("spool write failed", map[string]any{
			"external_id": rec.ExternalID,
			"error":       err.Error(),
		})
	}
}

// spoolFiltered records the state-filtered records.
func (e *Engine) spoolFiltered(sp *guardedSpool, actionable, eligible []types.ExternalRecord) {
	if sp == nil || len(actionable) == len(eligible) {
		return
	}
	kept := make(map[string]bool, len(eligible))
	for _, rec := range eligible {
		kept[rec.Key()] = true
	}
	for _, rec := range actionable {
		if !kept[rec.Key()] {
			e.spoolRecord(sp, rec, spool.DispositionSkipped, "already synced or permanently failed")
		}
	}
}

// publish notifies downstream systems that the cycle completed.
func (e *Engine) publish(ctx context.Context, summary types.CycleSummary) {
	if len(e.cfg.Adapters) == 0 {
		return
	}
	event := adapter.NewCycleCompletedEvent(e.cfg.Meta, summary, time.Now())
	for _, a := range e.cfg.Adapters {
		if err := a.Publish(ctx, event); err != nil {
			e.cfg.Logger.Warn("completion notification failed", map[string]any{"error": err.Error()})
		}
	}
}
