package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorAccumulates(t *testing.T) {
	c := NewCollector("paypal", "org-1", "cycle-1")

	c.AddFetched(10)
	c.AddFiltered(3)
	c.IncMapSuccess()
	c.IncMapSuccess()
	c.IncMapFailure()
	c.IncPushAttempted()
	c.IncPushSucceeded()
	c.IncPushAttempted()
	c.IncPushRetryable()
	c.IncStateWriteFailure()
	c.IncArchiveSuccess()
	c.IncSpoolFailure()

	snap := c.Snapshot()
	assert.Equal(t, int64(10), snap.RecordsFetched)
	assert.Equal(t, int64(3), snap.RecordsFiltered)
	assert.Equal(t, int64(2), snap.MapSuccess)
	assert.Equal(t, int64(1), snap.MapFailure)
	assert.Equal(t, int64(2), snap.PushesAttempted)
	assert.Equal(t, int64(1), snap.PushesSucceeded)
	assert.Equal(t, int64(1), snap.PushesRetryable)
	assert.Equal(t, int64(0), snap.PushesPermanent)
	assert.Equal(t, int64(1), snap.StateWriteFailures)
	assert.Equal(t, int64(1), snap.ArchiveSuccess)
	assert.Equal(t, int64(1), snap.SpoolFailures)
	assert.Equal(t, "paypal", snap.Source)
	assert.Equal(t, "cycle-1", snap.CycleID)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.AddFetched(5)
	c.IncMapSuccess()
	c.IncPushAttempted()
	c.IncArchiveFailure()
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollectorConcurrentIncrements(t *testing.T) {
	c := NewCollector("eventbrite", "org-1", "cycle-2")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncPushAttempted()
			c.IncPushSucceeded()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.PushesAttempted)
	assert.Equal(t, int64(50), snap.PushesSucceeded)
}
