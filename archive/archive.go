// Package archive writes raw fetched records to partitioned dataset
// storage for audit and replay.
//
// Storage uses Lode's HiveLayout with partition keys: source/day/cycle_id.
// Archiving is best-effort: a cycle proceeds when the archive write
// fails, and the failure is reported through the collector.
package archive

import (
	"context"

	"github.com/justapithecus/lode/lode"

	"github.com/lanternworks/stitch/types"
)

// Archiver persists fetched records for a cycle.
type Archiver interface {
	// WriteRecords archives a batch of fetched records.
	WriteRecords(ctx context.Context, meta types.CycleMeta, records []types.ExternalRecord) error
	// Close releases archiver resources.
	Close() error
}

// Config holds archiver configuration.
type Config struct {
	// Dataset is the dataset identifier (required).
	Dataset string
	// Org tags every archived record.
	Org string
}

// LodeArchiver is a Lode-backed implementation of Archiver.
type LodeArchiver struct {
	dataset lode.Dataset
	config  Config
}

// NewFS creates an archiver with filesystem storage rooted at root.
func NewFS(cfg Config, root string) (*LodeArchiver, error) {
	return NewWithFactory(cfg, lode.NewFSFactory(root))
}

// NewWithFactory creates an archiver with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewWithFactory(cfg Config, factory lode.StoreFactory) (*LodeArchiver, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("source", "day", "cycle_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, err
	}
	return &LodeArchiver{dataset: ds, config: cfg}, nil
}

// WriteRecords archives a batch of fetched records under the cycle's
// partition.
func (a *LodeArchiver) WriteRecords(ctx context.Context, meta types.CycleMeta, records []types.ExternalRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, toRecordMap(meta, rec, a.config))
	}

	_, err := a.dataset.Write(ctx, rows, lode.Metadata{})
	return err
}

// Close releases archiver resources.
func (a *LodeArchiver) Close() error {
	return nil
}

// Verify LodeArchiver implements Archiver.
var _ Archiver = (*LodeArchiver)(nil)

// NopArchiver discards all records. Used when archiving is not configured.
type NopArchiver struct{}

func (NopArchiver) WriteRecords(context.Context, types.CycleMeta, []types.ExternalRecord) error {
	return nil
}

func (NopArchiver) Close() error { return nil }

var _ Archiver = NopArchiver{}
