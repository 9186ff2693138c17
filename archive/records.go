package archive

import (
	"time"

	"github.com/lanternworks/stitch/types"
)

// dayFormat is the day partition value layout.
const dayFormat = "2006-01-02"

// toRecordMap flattens a fetched record into an archive row. The
// source, day, and cycle_id keys drive the Hive partition layout.
func toRecordMap(meta types.CycleMeta, rec types.ExternalRecord, cfg Config) map[string]any {
	return map[string]any{
		"source":      string(rec.Source),
		"day":         rec.FetchedAt.UTC().Format(dayFormat),
		"cycle_id":    meta.CycleID,
		"org":         cfg.Org,
		"external_id": rec.ExternalID,
		"kind":        string(rec.Kind),
		"fetched_at":  rec.FetchedAt.UTC().Format(time.RFC3339Nano),
		"fields":      rec.Fields,
	}
}
