package engine

import (
	"sort"
	"time"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/itemkey"
)

// ReconcileInputs carries everything one reconciliation run needs. Existing
// holds entries already persisted for the date, Prior holds the previous
// day's entries keyed by normalized name, and Items is the catalog universe
// (callers pass the cylinder items being tracked for the scope).
type ReconcileInputs struct {
	Date       string
	EmployeeID string
	Existing   []domain.StockEntry
	Totals     Totals
	Prior      map[string]domain.StockEntry
	Items      []domain.Item
}

// ReconcileResult is the day's reconciled entries plus the opening patches
// to roll forward into the next day. The patches are FillOnly: a next-day
// entry whose openings were already set independently is never overwritten.
type ReconcileResult struct {
	Current         []domain.StockEntry
	NextDayOpenings []domain.StockEntryPatch
}

// Reconcile computes closing balances for every item in the universe (union
// of existing entries, aggregated totals, and the catalog list):
//
//	openingFull  = existing ?? prior closing ?? 0
//	closingFull  = max(0, openingFull + refilled - gasSales)
//	totalUnits   = max(0, openingFull + openingEmpty - cylinderSales - deposits + returns)
//	closingEmpty = max(0, totalUnits - closingFull)
//
// closingEmpty is deliberately the remainder of totalUnits after closingFull
// rather than an independently tracked balance, so the two always sum
// consistently. The function is pure and idempotent: rerunning it with the
// same inputs yields the same closing values.
func Reconcile(in ReconcileInputs) ReconcileResult {
	existingByKey := make(map[string]domain.StockEntry, len(in.Existing))
	for _, entry := range in.Existing {
		key := itemkey.Normalize(entry.ItemName)
		if key == "" {
			continue
		}
		existingByKey[key] = entry
	}

	type universeItem struct {
		name string
		id   string
	}
	universe := make(map[string]universeItem)
	observe := func(name, id string) {
		key := itemkey.Normalize(name)
		if key == "" {
			return
		}
		u, ok := universe[key]
		if !ok {
			u = universeItem{name: name}
		}
		if u.id == "" {
			u.id = id
		}
		universe[key] = u
	}
	for _, entry := range in.Existing {
		observe(entry.ItemName, entry.ItemID)
	}
	for _, tot := range in.Totals.ByKey {
		observe(tot.ItemName, tot.ItemID)
	}
	for _, item := range in.Items {
		observe(item.Name, item.ID)
	}

	nextDate := nextDay(in.Date)

	current := make([]domain.StockEntry, 0, len(universe))
	openings := make([]domain.StockEntryPatch, 0, len(universe))

	for key, u := range universe {
		existing, hasExisting := existingByKey[key]
		prior, hasPrior := in.Prior[key]

		openingFull := 0
		switch {
		case hasExisting && existing.OpeningFull != nil:
			openingFull = *existing.OpeningFull
		case hasPrior && prior.ClosingFull != nil:
			openingFull = *prior.ClosingFull
		}
		openingEmpty := 0
		switch {
		case hasExisting && existing.OpeningEmpty != nil:
			openingEmpty = *existing.OpeningEmpty
		case hasPrior && prior.ClosingEmpty != nil:
			openingEmpty = *prior.ClosingEmpty
		}

		tot, hasTotals := in.Totals.Get(key, u.id)
		if !hasTotals && hasExisting {
			// No movement aggregated for this run; keep the entry's stored
			// movement figures (they may have been upserted manually).
			tot = domain.DailyTotals{
				Refilled:      existing.Refilled,
				GasSales:      existing.GasSales,
				CylinderSales: existing.CylinderSales,
				Deposits:      existing.Deposits,
				Returns:       existing.Returns,
			}
		}

		closingFull, closingEmpty := Closings(openingFull, openingEmpty, tot)

		entry := domain.StockEntry{
			Date:          in.Date,
			ItemName:      u.name,
			ItemID:        u.id,
			EmployeeID:    in.EmployeeID,
			OpeningFull:   domain.IntPtr(openingFull),
			OpeningEmpty:  domain.IntPtr(openingEmpty),
			Refilled:      tot.Refilled,
			CylinderSales: tot.CylinderSales,
			GasSales:      tot.GasSales,
			Deposits:      tot.Deposits,
			Returns:       tot.Returns,
			ClosingFull:   domain.IntPtr(closingFull),
			ClosingEmpty:  domain.IntPtr(closingEmpty),
		}
		current = append(current, entry)

		openings = append(openings, domain.StockEntryPatch{
			Date:         nextDate,
			ItemName:     u.name,
			ItemID:       u.id,
			EmployeeID:   in.EmployeeID,
			OpeningFull:  domain.IntPtr(closingFull),
			OpeningEmpty: domain.IntPtr(closingEmpty),
			FillOnly:     true,
		})
	}

	sort.Slice(current, func(i, j int) bool {
		return itemkey.Normalize(current[i].ItemName) < itemkey.Normalize(current[j].ItemName)
	})
	sort.Slice(openings, func(i, j int) bool {
		return itemkey.Normalize(openings[i].ItemName) < itemkey.Normalize(openings[j].ItemName)
	})

	return ReconcileResult{Current: current, NextDayOpenings: openings}
}

// Closings computes a day's closing balances from the opening balances and
// aggregated movement. Full stock rises with refills and falls with gas
// sales (each gas sale empties a full cylinder); whatever portion of the
// site's total units is not full is empty. Intermediate negatives clamp to
// zero.
func Closings(openingFull, openingEmpty int, tot domain.DailyTotals) (closingFull, closingEmpty int) {
	closingFull = clampNonNegative(openingFull + tot.Refilled - tot.GasSales)
	totalUnits := clampNonNegative(openingFull + openingEmpty - tot.CylinderSales - tot.Deposits + tot.Returns)
	closingEmpty = clampNonNegative(totalUnits - closingFull)
	return closingFull, closingEmpty
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func nextDay(date string) string {
	day, err := time.Parse(DateFormat, date)
	if err != nil {
		return date
	}
	return day.AddDate(0, 0, 1).Format(DateFormat)
}
