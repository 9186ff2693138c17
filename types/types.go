// Package types defines core domain types for the Stitch orchestrator.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"time"
)

// SourceSystem identifies the upstream system a record originated in.
type SourceSystem string

const (
	// SourcePayPal is the payments provider.
	SourcePayPal SourceSystem = "paypal"
	// SourceEventbrite is the event-ticketing platform.
	SourceEventbrite SourceSystem = "eventbrite"
)

// Valid reports whether the source system is one we can fetch from.
func (s SourceSystem) Valid() bool {
	return s == SourcePayPal || s == SourceEventbrite
}

// RecordKind classifies an external record for mapping dispatch.
type RecordKind string

const (
	// KindDonation is a one-off payment (PayPal donation codes).
	KindDonation RecordKind = "donation"
	// KindRefund is a merchant-initiated refund referencing a prior transaction.
	KindRefund RecordKind = "refund"
	// KindSubscription is a recurring subscription payment.
	KindSubscription RecordKind = "subscription"
	// KindAttendee is an event registration from the ticketing platform.
	KindAttendee RecordKind = "attendee"
	// KindSkip marks administrative records (withdrawals, currency
	// conversions, account holds) that are fetched but never forwarded.
	KindSkip RecordKind = "skip"
)

// ExternalRecord is a single record fetched from a source system,
// identified by an external ID unique within that source.
type ExternalRecord struct {
	Source     SourceSystem   `json:"source" msgpack:"source"`
	ExternalID string         `json:"external_id" msgpack:"external_id"`
	Kind       RecordKind     `json:"kind" msgpack:"kind"`
	Fields     map[string]any `json:"fields" msgpack:"fields"`
	FetchedAt  time.Time      `json:"fetched_at" msgpack:"fetched_at"`
}

// Key returns the (source, external ID) identity used by the sync-state store.
func (r *ExternalRecord) Key() string {
	return string(r.Source) + "/" + r.ExternalID
}

// MappedObject is one destination object produced by mapping, upserted
// against MatchField=MatchValue in the destination system.
type MappedObject struct {
	// SObject is the destination object name (Contact, Opportunity, ...).
	SObject string `json:"sobject"`
	// MatchField is the external-ID field the upsert keys on.
	MatchField string `json:"match_field"`
	// MatchValue is the external-ID value for this object.
	MatchValue string `json:"match_value"`
	// Fields holds the destination field values.
	Fields map[string]any `json:"fields"`
}

// MappedRecord is the transformed representation of an ExternalRecord in
// the destination schema. Objects are pushed in order; earlier objects
// (Contact) must exist before later ones (Opportunity) reference them.
type MappedRecord struct {
	Source     SourceSystem   `json:"source"`
	ExternalID string         `json:"external_id"`
	Objects    []MappedObject `json:"objects"`
}

// SyncStatus is the persisted forwarding status of a record.
type SyncStatus string

const (
	// StatusPending means the record has not been forwarded yet.
	StatusPending SyncStatus = "pending"
	// StatusSynced means the record was forwarded successfully.
	StatusSynced SyncStatus = "synced"
	// StatusFailedRetryable means the last push failed transiently and the
	// record is eligible for retry in a later cycle.
	StatusFailedRetryable SyncStatus = "failed_retryable"
	// StatusFailedPermanent means the record failed terminally and must
	// never be retried.
	StatusFailedPermanent SyncStatus = "failed_permanent"
)

// CycleMeta is the identity of a single sync cycle, carried through
// logging, spooling, archiving, and notifications.
type CycleMeta struct {
	// CycleID is the unique identifier for this cycle.
	CycleID string
	// Attempt is the attempt number, starts at 1.
	Attempt int
	// Source is the source system this cycle pulls from.
	Source SourceSystem
	// Org is the organization slug the credentials belong to.
	Org string
	// DryRun indicates mapping without pushing.
	DryRun bool
}

// Validate checks that required cycle identity fields are present.
func (m *CycleMeta) Validate() error {
	if m == nil {
		return fmt.Errorf("cycle metadata is nil")
	}
	if m.CycleID == "" {
		return fmt.Errorf("cycle_id is required")
	}
	if m.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", m.Attempt)
	}
	if !m.Source.Valid() {
		return fmt.Errorf("unknown source system %q", m.Source)
	}
	return nil
}

// CycleSummary aggregates the outcome of one sync cycle.
// Invariant: Fetched == Synced + Failed + Skipped.
type CycleSummary struct {
	// Fetched is the number of records returned by the source.
	Fetched int `json:"fetched"`
	// Synced is the number of records forwarded and marked synced.
	Synced int `json:"synced"`
	// Failed is the number of records that failed mapping or pushing.
	Failed int `json:"failed"`
	// Skipped is the number of records excluded before pushing: already
	// synced, terminally failed in a prior cycle, administrative kinds,
	// or everything mapped under --dry-run.
	Skipped int `json:"skipped"`
	// Retryable and Permanent break Failed down by retry eligibility.
	Retryable int `json:"retryable"`
	Permanent int `json:"permanent"`
	// Duration is the wall-clock cycle duration.
	Duration time.Duration `json:"duration"`
}

// FullSuccess reports whether every fetched record either synced or was
// legitimately skipped.
func (s *CycleSummary) FullSuccess() bool {
	return s.Failed == 0
}
