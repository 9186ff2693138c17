// Package crm defines the push side of the pipeline.
package crm

import (
	"context"

	"github.com/lanternworks/stitch/types"
)

// Pusher forwards mapped objects to the CRM. Push is safe for
// concurrent use; implementations upsert so a replayed push is
// harmless.
type Pusher interface {
	Push(ctx context.Context, obj types.MappedObject) error
}
