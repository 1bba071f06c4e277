package mirror

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

const snapshotKey = "stock-snapshot"

// InProcess keeps the mirrored stock book in process memory. It is the
// fallback when no Redis address is configured; the copy does not survive a
// restart, which is acceptable for single-instance dev/demo deployments.
type InProcess struct {
	store *gocache.Cache
}

func NewInProcess() *InProcess {
	return &InProcess{store: gocache.New(gocache.NoExpiration, 0)}
}

func (m *InProcess) Load(_ context.Context) (Snapshot, bool, error) {
	raw, found := m.store.Get(snapshotKey)
	if !found {
		return Snapshot{}, false, nil
	}
	snap, ok := raw.(Snapshot)
	if !ok {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (m *InProcess) Save(_ context.Context, snap Snapshot) error {
	m.store.Set(snapshotKey, snap, gocache.NoExpiration)
	return nil
}
