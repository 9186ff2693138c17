// Package metrics provides per-cycle metrics collection.
//
// The Collector accumulates counters during a single sync cycle. It is
// a leaf package with no internal dependencies. All increment methods
// are nil-receiver safe so callers need no conditional wiring.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of cycle metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Fetch
	RecordsFetched  int64
	RecordsFiltered int64

	// Mapping
	MapSuccess int64
	MapFailure int64

	// Push
	PushesAttempted int64
	PushesSucceeded int64
	PushesRetryable int64
	PushesPermanent int64

	// State / storage
	StateWriteFailures int64
	ArchiveSuccess     int64
	ArchiveFailure     int64
	SpoolFailures      int64

	// Dimensions (informational, set at construction)
	Source  string
	Org     string
	CycleID string
}

// Collector accumulates metrics during a single cycle.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	recordsFetched  int64
	recordsFiltered int64

	mapSuccess int64
	mapFailure int64

	pushesAttempted int64
	pushesSucceeded int64
	pushesRetryable int64
	pushesPermanent int64

	stateWriteFailures int64
	archiveSuccess     int64
	archiveFailure     int64
	spoolFailures      int64

	source  string
	org     string
	cycleID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(source, org, cycleID string) *Collector {
	return &Collector{
		source:  source,
		org:     org,
		cycleID: cycleID,
	}
}

// AddFetched records a batch of fetched records.
func (c *Collector) AddFetched(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsFetched += int64(n)
	c.mu.Unlock()
}

// AddFiltered records records dropped by the state filter.
func (c *Collector) AddFiltered(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsFiltered += int64(n)
	c.mu.Unlock()
}

// IncMapSuccess records a successful mapping.
func (c *Collector) IncMapSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.mapSuccess++
	c.mu.Unlock()
}

// IncMapFailure records a mapping failure.
func (c *Collector) IncMapFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.mapFailure++
	c.mu.Unlock()
}

// IncPushAttempted records a push attempt.
func (c *Collector) IncPushAttempted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pushesAttempted++
	c.mu.Unlock()
}

// IncPushSucceeded records a successful push.
func (c *Collector) IncPushSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pushesSucceeded++
	c.mu.Unlock()
}

// IncPushRetryable records a push failure that stays eligible for retry.
func (c *Collector) IncPushRetryable() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pushesRetryable++
	c.mu.Unlock()
}

// IncPushPermanent records a permanent push failure.
func (c *Collector) IncPushPermanent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pushesPermanent++
	c.mu.Unlock()
}

// IncStateWriteFailure records a sync state write failure.
func (c *Collector) IncStateWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stateWriteFailures++
	c.mu.Unlock()
}

// IncArchiveSuccess records a successful archive write.
func (c *Collector) IncArchiveSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveSuccess++
	c.mu.Unlock()
}

// IncArchiveFailure records a failed archive write.
func (c *Collector) IncArchiveFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveFailure++
	c.mu.Unlock()
}

// IncSpoolFailure records a spool write failure.
func (c *Collector) IncSpoolFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.spoolFailures++
	c.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RecordsFetched:  c.recordsFetched,
		RecordsFiltered: c.recordsFiltered,

		MapSuccess: c.mapSuccess,
		MapFailure: c.mapFailure,

		PushesAttempted: c.pushesAttempted,
		PushesSucceeded: c.pushesSucceeded,
		PushesRetryable: c.pushesRetryable,
		PushesPermanent: c.pushesPermanent,

		StateWriteFailures: c.stateWriteFailures,
		ArchiveSuccess:     c.archiveSuccess,
		ArchiveFailure:     c.archiveFailure,
		SpoolFailures:      c.spoolFailures,

		Source:  c.source,
		Org:     c.org,
		CycleID: c.cycleID,
	}
}
