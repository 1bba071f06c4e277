// Package engine holds the stock reconciliation and reservation math. All
// functions are pure and deterministic: the same inputs always produce the
// same outputs, which lets callers rerun them freely (on view, on date
// change, on manual recompute) without double counting.
package engine

import (
	"math"
	"time"

	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/itemkey"
)

// DateFormat is the calendar-day key used throughout the engine and the
// persisted stock entries.
const DateFormat = "2006-01-02"

// CylinderActivity groups the cylinder-side transaction streams for one
// aggregation run.
type CylinderActivity struct {
	Sales    []domain.CylinderSaleLine
	Deposits []domain.DepositRecord
	Returns  []domain.ReturnRecord
}

// Totals is the aggregation result: per-item daily movement keyed by
// normalized name, with a parallel map keyed by stable item id as a fallback
// lookup when name matching fails. Skipped counts records excluded because
// their item could not be identified (empty key after normalization).
type Totals struct {
	ByKey   map[string]domain.DailyTotals
	ByID    map[string]domain.DailyTotals
	Skipped int
}

// Get returns the totals for an item, trying the normalized name first and
// the stable id second.
func (t Totals) Get(key string, id string) (domain.DailyTotals, bool) {
	if tot, ok := t.ByKey[key]; ok {
		return tot, true
	}
	if id != "" {
		if tot, ok := t.ByID[id]; ok {
			return tot, true
		}
	}
	return domain.DailyTotals{}, false
}

// Aggregate buckets the raw transaction collections into per-item totals for
// one calendar day. Records whose timestamp falls outside the day's local
// window are discarded. A gas sale is attributed to the cylinder it depletes
// when that reference is present, falling back to the gas item itself; a
// full-cylinder sale's gas reference never produces a separate gas-sale
// count (the gas consumption is tracked through the cylinder's own entry,
// avoiding double deduction).
func Aggregate(date string, loc *time.Location, gasSales []domain.GasSaleLine, activity CylinderActivity, refills []domain.RefillRecord) (Totals, error) {
	day, err := time.ParseInLocation(DateFormat, date, loc)
	if err != nil {
		return Totals{}, err
	}
	start := day
	end := day.AddDate(0, 0, 1)

	acc := newAccumulator()

	for _, sale := range gasSales {
		if outsideWindow(sale.SoldAt, start, end) {
			continue
		}
		qty := CoerceQty(sale.Quantity)
		ref := sale.Item
		if sale.Cylinder != nil && itemkey.Normalize(sale.Cylinder.Name) != "" {
			ref = *sale.Cylinder
		}
		acc.add(ref, func(t *domain.DailyTotals) { t.GasSales += qty })
	}

	for _, sale := range activity.Sales {
		if outsideWindow(sale.SoldAt, start, end) {
			continue
		}
		qty := CoerceQty(sale.Quantity)
		acc.add(sale.Item, func(t *domain.DailyTotals) { t.CylinderSales += qty })
	}

	for _, dep := range activity.Deposits {
		if outsideWindow(dep.RecordedAt, start, end) {
			continue
		}
		qty := CoerceQty(dep.Quantity)
		acc.add(dep.Item, func(t *domain.DailyTotals) { t.Deposits += qty })
	}

	for _, ret := range activity.Returns {
		if outsideWindow(ret.RecordedAt, start, end) {
			continue
		}
		qty := CoerceQty(ret.Quantity)
		acc.add(ret.Item, func(t *domain.DailyTotals) { t.Returns += qty })
	}

	for _, refill := range refills {
		if outsideWindow(refill.RefilledAt, start, end) {
			continue
		}
		qty := CoerceQty(refill.Quantity)
		acc.add(refill.Cylinder, func(t *domain.DailyTotals) { t.Refilled += qty })
	}

	return acc.totals(), nil
}

// CoerceQty turns a raw transaction quantity into a usable unit count:
// NaN/Inf and negatives become 0, fractional values are floored.
func CoerceQty(raw float64) int {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return 0
	}
	return int(math.Floor(raw))
}

func outsideWindow(at time.Time, start, end time.Time) bool {
	return at.Before(start) || !at.Before(end)
}

type accumulator struct {
	byKey   map[string]domain.DailyTotals
	byID    map[string]domain.DailyTotals
	skipped int
}

func newAccumulator() *accumulator {
	return &accumulator{
		byKey: make(map[string]domain.DailyTotals),
		byID:  make(map[string]domain.DailyTotals),
	}
}

// add applies mutate to the totals bucket for ref. Records with an
// unidentifiable item are counted and skipped: aggregating them together
// under one blank key would silently merge unrelated items.
func (a *accumulator) add(ref domain.ItemRef, mutate func(*domain.DailyTotals)) {
	key := itemkey.Normalize(ref.Name)
	if key == "" {
		a.skipped++
		return
	}

	tot := a.byKey[key]
	if tot.ItemName == "" {
		tot.ItemName = ref.Name
	}
	if tot.ItemID == "" {
		tot.ItemID = ref.ID
	}
	mutate(&tot)
	a.byKey[key] = tot

	if ref.ID != "" {
		a.byID[ref.ID] = tot
	} else if tot.ItemID != "" {
		a.byID[tot.ItemID] = tot
	}
}

func (a *accumulator) totals() Totals {
	return Totals{ByKey: a.byKey, ByID: a.byID, Skipped: a.skipped}
}
