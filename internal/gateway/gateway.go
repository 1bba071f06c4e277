// Package gateway routes stock-entry reads and writes to the primary store,
// falling back to the local mirror when the primary is unreachable. Writes
// made against the mirror are queued and replayed on the next successful
// round trip, so a flaky connection never loses a stock correction.
package gateway

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"time"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/engine"
	"pangkalangas/backend/internal/itemkey"
	"pangkalangas/backend/internal/mirror"
	"pangkalangas/backend/internal/store"
)

type Gateway struct {
	repo   store.Repository
	mirror mirror.Mirror
}

func New(repo store.Repository, m mirror.Mirror) *Gateway {
	if m == nil {
		m = mirror.Noop{}
	}
	return &Gateway{repo: repo, mirror: m}
}

func entryKey(date, itemName, employeeID string) string {
	return date + "|" + itemkey.Normalize(itemName) + "|" + employeeID
}

// Upsert writes the patch to the primary store. When the primary is
// unreachable the patch is merged into the mirror and queued; the returned
// queued flag tells the caller the write has not been durably confirmed.
func (g *Gateway) Upsert(ctx context.Context, patch domain.StockEntryPatch) (*domain.StockEntry, bool, error) {
	entry, err := g.repo.UpsertStockEntry(ctx, patch)
	if err == nil {
		g.flushPending(ctx)
		g.mirrorEntry(ctx, *entry)
		return entry, false, nil
	}
	if errors.Is(err, store.ErrInvalidEntry) {
		return nil, false, err
	}

	log.Printf("[gateway] WARN: primary store unreachable, queueing stock entry for %s/%s: %v", patch.Date, patch.ItemName, err)

	merged, queueErr := g.queueLocally(ctx, patch)
	if queueErr != nil {
		// Mirror also failed: surface the original store error.
		return nil, false, err
	}
	return merged, true, nil
}

// ListForDate reads the day's entries from the primary store, refreshing the
// mirror as a side effect. When the primary is unreachable it serves the
// mirrored copy and reports cached=true.
func (g *Gateway) ListForDate(ctx context.Context, date string, employeeID string) ([]domain.StockEntry, bool, error) {
	entries, err := g.repo.ListStockEntries(ctx, date, employeeID)
	if err == nil {
		g.flushPending(ctx)
		g.mirrorDay(ctx, date, employeeID, entries)
		return entries, false, nil
	}

	log.Printf("[gateway] WARN: primary store unreachable, serving mirrored stock for %s: %v", date, err)

	snap, found, loadErr := g.mirror.Load(ctx)
	if loadErr != nil || !found {
		return nil, false, err
	}
	cached := make([]domain.StockEntry, 0, len(snap.Entries))
	for _, entry := range snap.Entries {
		if entry.Date == date && entry.EmployeeID == employeeID {
			cached = append(cached, entry)
		}
	}
	sortEntries(cached)
	return cached, true, nil
}

// Previous returns the latest entry for the item strictly before the given
// date, falling back to the mirror when the primary store is down.
func (g *Gateway) Previous(ctx context.Context, itemName string, date string, employeeID string) (*domain.StockEntry, error) {
	entry, err := g.repo.GetPreviousStockEntry(ctx, itemName, date, employeeID)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return entry, err
	}

	snap, found, loadErr := g.mirror.Load(ctx)
	if loadErr != nil || !found {
		return nil, err
	}

	key := itemkey.Normalize(itemName)
	var best *domain.StockEntry
	for i := range snap.Entries {
		candidate := snap.Entries[i]
		if candidate.EmployeeID != employeeID || itemkey.Normalize(candidate.ItemName) != key {
			continue
		}
		if candidate.Date >= date {
			continue
		}
		if best == nil || candidate.Date > best.Date {
			best = &candidate
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	copied := *best
	return &copied, nil
}

// queueLocally merges the patch into the mirrored snapshot and parks it in
// the pending queue for replay.
func (g *Gateway) queueLocally(ctx context.Context, patch domain.StockEntryPatch) (*domain.StockEntry, error) {
	snap, _, err := g.mirror.Load(ctx)
	if err != nil {
		return nil, err
	}

	key := entryKey(patch.Date, patch.ItemName, patch.EmployeeID)
	idx := -1
	for i, entry := range snap.Entries {
		if entryKey(entry.Date, entry.ItemName, entry.EmployeeID) == key {
			idx = i
			break
		}
	}

	base := domain.StockEntry{Date: patch.Date, ItemName: patch.ItemName, EmployeeID: patch.EmployeeID}
	if idx >= 0 {
		base = snap.Entries[idx]
	}
	merged := engine.ApplyPatch(base, patch)
	merged.UpdatedAt = time.Now().UTC()
	if idx >= 0 {
		snap.Entries[idx] = merged
	} else {
		snap.Entries = append(snap.Entries, merged)
	}
	snap.Pending = append(snap.Pending, patch)

	if err := g.mirror.Save(ctx, snap); err != nil {
		return nil, err
	}
	return &merged, nil
}

// flushPending replays queued writes against the primary store. Replay stops
// at the first failure so ordering is preserved for the next attempt.
func (g *Gateway) flushPending(ctx context.Context) {
	snap, found, err := g.mirror.Load(ctx)
	if err != nil || !found || len(snap.Pending) == 0 {
		return
	}

	flushed := 0
	for _, patch := range snap.Pending {
		if _, err := g.repo.UpsertStockEntry(ctx, patch); err != nil {
			if errors.Is(err, store.ErrInvalidEntry) {
				// A patch the store permanently rejects would wedge the
				// queue; drop it and keep going.
				log.Printf("[gateway] WARN: dropping invalid queued entry for %s/%s", patch.Date, patch.ItemName)
				flushed++
				continue
			}
			break
		}
		flushed++
	}
	if flushed == 0 {
		return
	}

	snap.Pending = snap.Pending[flushed:]
	if err := g.mirror.Save(ctx, snap); err != nil {
		log.Printf("[gateway] WARN: failed to persist mirror after flush: %v", err)
	} else if len(snap.Pending) == 0 {
		log.Printf("[gateway] replayed %d queued stock entr%s", flushed, pluralY(flushed))
	}
}

// mirrorEntry folds a confirmed entry into the snapshot.
func (g *Gateway) mirrorEntry(ctx context.Context, entry domain.StockEntry) {
	snap, _, err := g.mirror.Load(ctx)
	if err != nil {
		return
	}
	key := entryKey(entry.Date, entry.ItemName, entry.EmployeeID)
	replaced := false
	for i, existing := range snap.Entries {
		if entryKey(existing.Date, existing.ItemName, existing.EmployeeID) == key {
			snap.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Entries = append(snap.Entries, entry)
	}
	if err := g.mirror.Save(ctx, snap); err != nil {
		log.Printf("[gateway] WARN: failed to mirror stock entry: %v", err)
	}
}

// mirrorDay replaces the snapshot's view of one date/scope with the
// authoritative copy just read from the primary store.
func (g *Gateway) mirrorDay(ctx context.Context, date string, employeeID string, entries []domain.StockEntry) {
	snap, _, err := g.mirror.Load(ctx)
	if err != nil {
		return
	}
	kept := make([]domain.StockEntry, 0, len(snap.Entries)+len(entries))
	for _, entry := range snap.Entries {
		if entry.Date == date && entry.EmployeeID == employeeID {
			continue
		}
		kept = append(kept, entry)
	}
	kept = append(kept, entries...)
	snap.Entries = kept
	if err := g.mirror.Save(ctx, snap); err != nil {
		log.Printf("[gateway] WARN: failed to mirror stock day: %v", err)
	}
}

func sortEntries(entries []domain.StockEntry) {
	slices.SortFunc(entries, func(a, b domain.StockEntry) int {
		return strings.Compare(itemkey.Normalize(a.ItemName), itemkey.Normalize(b.ItemName))
	})
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
