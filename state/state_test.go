package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternworks/stitch/iox"
	"github.com/lanternworks/stitch/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(iox.CloseFunc(s))
	return s
}

func rec(source types.SourceSystem, id string) types.ExternalRecord {
	return types.ExternalRecord{Source: source, ExternalID: id, Kind: types.KindDonation}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestMarkSynced_FiltersOutRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []types.ExternalRecord{
		rec(types.SourcePayPal, "txn-1"),
		rec(types.SourcePayPal, "txn-2"),
	}

	require.NoError(t, s.MarkSynced(ctx, types.SourcePayPal, "txn-1"))

	eligible, dropped, err := s.FilterPending(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	require.Len(t, eligible, 1)
	assert.Equal(t, "txn-2", eligible[0].ExternalID)
}

func TestMarkFailed_RetryableStaysEligible(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkFailed(ctx, types.SourcePayPal, "txn-1", true, "503 from destination"))

	eligible, dropped, err := s.FilterPending(ctx, []types.ExternalRecord{rec(types.SourcePayPal, "txn-1")})
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Len(t, eligible, 1, "retryable failure must be retried next cycle")
}

func TestMarkFailed_PermanentNeverRetried(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkFailed(ctx, types.SourcePayPal, "txn-1", false, "400 from destination"))

	eligible, dropped, err := s.FilterPending(ctx, []types.ExternalRecord{rec(types.SourcePayPal, "txn-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, eligible, "permanent failure must never be retried")
}

func TestMark_AttemptsAccumulate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkFailed(ctx, types.SourcePayPal, "txn-1", true, "timeout"))
	require.NoError(t, s.MarkFailed(ctx, types.SourcePayPal, "txn-1", true, "timeout again"))
	require.NoError(t, s.MarkSynced(ctx, types.SourcePayPal, "txn-1"))

	got, ok, err := s.Get(ctx, types.SourcePayPal, "txn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.StatusSynced, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.False(t, got.LastAttemptAt.IsZero())
}

func TestKeySpace_IsPerSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Same external ID in two sources are distinct records.
	require.NoError(t, s.MarkSynced(ctx, types.SourcePayPal, "id-1"))

	eligible, dropped, err := s.FilterPending(ctx, []types.ExternalRecord{rec(types.SourceEventbrite, "id-1")})
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Len(t, eligible, 1)
}

func TestAcquireLease_Exclusion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireLease(ctx, "cycle-a", time.Minute))

	err := s.AcquireLease(ctx, "cycle-b", time.Minute)
	require.ErrorIs(t, err, ErrCycleInProgress)

	// Same holder re-acquires (extends) without error.
	require.NoError(t, s.AcquireLease(ctx, "cycle-a", time.Minute))

	// After release the other cycle gets through.
	require.NoError(t, s.ReleaseLease(ctx, "cycle-a"))
	require.NoError(t, s.AcquireLease(ctx, "cycle-b", time.Minute))
}

func TestAcquireLease_ExpiredLeaseIsTakenOver(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireLease(ctx, "cycle-a", -time.Second))
	require.NoError(t, s.AcquireLease(ctx, "cycle-b", time.Minute))
}

func TestReleaseLease_OnlyOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireLease(ctx, "cycle-a", time.Minute))
	require.NoError(t, s.ReleaseLease(ctx, "cycle-b")) // no-op, not the owner

	err := s.AcquireLease(ctx, "cycle-c", time.Minute)
	assert.ErrorIs(t, err, ErrCycleInProgress, "lease must survive a non-owner release")
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkSynced(ctx, types.SourcePayPal, "t-1"))
	require.NoError(t, s.MarkSynced(ctx, types.SourcePayPal, "t-2"))
	require.NoError(t, s.MarkFailed(ctx, types.SourcePayPal, "t-3", false, "bad request"))
	require.NoError(t, s.MarkFailed(ctx, types.SourceEventbrite, "a-1", true, "timeout"))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)

	byKey := map[string]int{}
	for _, c := range counts {
		byKey[string(c.Source)+"/"+string(c.Status)] = c.Count
	}
	assert.Equal(t, 2, byKey["paypal/synced"])
	assert.Equal(t, 1, byKey["paypal/failed_permanent"])
	assert.Equal(t, 1, byKey["eventbrite/failed_retryable"])
}
