// Package mirror stores a local copy of daily stock entries so the stock
// book stays readable and writable while the primary store is unreachable.
// Writes that could not reach the primary are parked in Pending and flushed
// on the next successful round trip.
package mirror

import (
	"context"

	"pangkalangas/backend/internal/domain"
)

// Snapshot is the whole mirrored stock book. It is always read and written
// as one unit: partial updates would leave the offline copy internally
// inconsistent.
type Snapshot struct {
	Entries []domain.StockEntry      `json:"entries"`
	Pending []domain.StockEntryPatch `json:"pending"`
}

type Mirror interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) error
}

type Noop struct{}

func (Noop) Load(_ context.Context) (Snapshot, bool, error) { return Snapshot{}, false, nil }

func (Noop) Save(_ context.Context, _ Snapshot) error { return nil }
