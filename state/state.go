package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lanternworks/stitch/types"
)

// ErrCycleInProgress is returned by AcquireLease when another cycle
// holds an unexpired lease.
var ErrCycleInProgress = errors.New("another sync cycle is in progress")

// timeFormat is the stored timestamp layout (UTC, second precision).
const timeFormat = time.RFC3339

// Record is one sync-state row.
type Record struct {
	Source        types.SourceSystem
	ExternalID    string
	Status        types.SyncStatus
	Attempts      int
	LastAttemptAt time.Time
	LastError     string
}

// StatusCount is one aggregation row for the status command.
type StatusCount struct {
	Source types.SourceSystem `json:"source"`
	Status types.SyncStatus   `json:"status"`
	Count  int                `json:"count"`
}

// AcquireLease claims the cycle lease for holder with the given TTL.
// Returns ErrCycleInProgress when a different holder has an unexpired
// lease. An expired lease is taken over; re-acquiring one's own lease
// extends it.
func (s *Store) AcquireLease(ctx context.Context, holder string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var current string
	var expiresAt string
	err = tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM cycle_lease WHERE id = 1`).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No lease yet; fall through to upsert.
	case err != nil:
		return fmt.Errorf("read lease: %w", err)
	default:
		exp, parseErr := time.Parse(timeFormat, expiresAt)
		if parseErr == nil && current != holder && now.Before(exp) {
			return fmt.Errorf("%w: held by %s until %s", ErrCycleInProgress, current, expiresAt)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycle_lease (id, holder, acquired_at, expires_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at`,
		holder, now.Format(timeFormat), now.Add(ttl).Format(timeFormat))
	if err != nil {
		return fmt.Errorf("write lease: %w", err)
	}

	return tx.Commit()
}

// ReleaseLease gives up the lease if holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, holder string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cycle_lease WHERE id = 1 AND holder = ?`, holder)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// FilterPending returns the subset of records still eligible for
// forwarding: records with no state row, pending records, and
// retryably-failed records. Synced and permanently-failed records are
// dropped; the second return value counts them.
func (s *Store) FilterPending(ctx context.Context, records []types.ExternalRecord) ([]types.ExternalRecord, int, error) {
	eligible := make([]types.ExternalRecord, 0, len(records))
	dropped := 0

	for i := range records {
		rec := &records[i]
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM sync_state WHERE source = ? AND external_id = ?`,
			string(rec.Source), rec.ExternalID).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			eligible = append(eligible, *rec)
		case err != nil:
			return nil, 0, fmt.Errorf("lookup %s/%s: %w", rec.Source, rec.ExternalID, err)
		case types.SyncStatus(status) == types.StatusSynced,
			types.SyncStatus(status) == types.StatusFailedPermanent:
			dropped++
		default:
			eligible = append(eligible, *rec)
		}
	}

	return eligible, dropped, nil
}

// MarkSynced records a successful forward. Single atomic upsert: either
// the record becomes synced or the prior state is untouched.
func (s *Store) MarkSynced(ctx context.Context, source types.SourceSystem, externalID string) error {
	return s.mark(ctx, source, externalID, types.StatusSynced, "")
}

// MarkFailed records a failed forward. Retryable failures remain
// eligible for the next cycle; permanent failures are terminal.
func (s *Store) MarkFailed(ctx context.Context, source types.SourceSystem, externalID string, retryable bool, cause string) error {
	status := types.StatusFailedPermanent
	if retryable {
		status = types.StatusFailedRetryable
	}
	return s.mark(ctx, source, externalID, status, cause)
}

func (s *Store) mark(ctx context.Context, source types.SourceSystem, externalID string, status types.SyncStatus, cause string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (source, external_id, status, attempts, last_attempt_at, last_error)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (source, external_id) DO UPDATE SET
			status = excluded.status,
			attempts = sync_state.attempts + 1,
			last_attempt_at = excluded.last_attempt_at,
			last_error = excluded.last_error`,
		string(source), externalID, string(status), now, nullable(cause))
	if err != nil {
		return fmt.Errorf("mark %s/%s %s: %w", source, externalID, status, err)
	}
	return nil
}

// Get returns the state row for a record, or ok=false when none exists.
func (s *Store) Get(ctx context.Context, source types.SourceSystem, externalID string) (Record, bool, error) {
	var rec Record
	var lastAttempt sql.NullString
	var lastError sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT source, external_id, status, attempts, last_attempt_at, last_error
		FROM sync_state WHERE source = ? AND external_id = ?`,
		string(source), externalID).
		Scan(&rec.Source, &rec.ExternalID, &rec.Status, &rec.Attempts, &lastAttempt, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s/%s: %w", source, externalID, err)
	}

	if lastAttempt.Valid {
		if t, parseErr := time.Parse(timeFormat, lastAttempt.String); parseErr == nil {
			rec.LastAttemptAt = t
		}
	}
	rec.LastError = lastError.String
	return rec, true, nil
}

// Counts aggregates state rows by source and status, ordered for
// deterministic output.
func (s *Store) Counts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, status, COUNT(*)
		FROM sync_state
		GROUP BY source, status
		ORDER BY source ASC, status ASC`)
	if err != nil {
		return nil, fmt.Errorf("count sync state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Source, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
