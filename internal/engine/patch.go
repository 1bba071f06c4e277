package engine

import "pangkalangas/backend/internal/domain"

// ApplyPatch merges a partial upsert into an entry: present patch fields win,
// omitted fields keep their previous value. With FillOnly set, a patch field
// is applied only when the entry does not carry the corresponding value yet,
// so day-rollover seeds never clobber an explicitly recorded opening.
// The store and the offline mirror both merge through here so local and
// remote copies converge to the same entry.
func ApplyPatch(entry domain.StockEntry, patch domain.StockEntryPatch) domain.StockEntry {
	if patch.ItemID != "" && entry.ItemID == "" {
		entry.ItemID = patch.ItemID
	}

	mergePtr := func(current **int, incoming *int) {
		if incoming == nil {
			return
		}
		if patch.FillOnly && *current != nil {
			return
		}
		v := *incoming
		*current = &v
	}
	mergeInt := func(current *int, incoming *int) {
		if incoming == nil || patch.FillOnly {
			return
		}
		*current = *incoming
	}

	mergePtr(&entry.OpeningFull, patch.OpeningFull)
	mergePtr(&entry.OpeningEmpty, patch.OpeningEmpty)
	mergeInt(&entry.Refilled, patch.Refilled)
	mergeInt(&entry.CylinderSales, patch.CylinderSales)
	mergeInt(&entry.GasSales, patch.GasSales)
	mergeInt(&entry.Deposits, patch.Deposits)
	mergeInt(&entry.Returns, patch.Returns)
	mergePtr(&entry.ClosingFull, patch.ClosingFull)
	mergePtr(&entry.ClosingEmpty, patch.ClosingEmpty)

	return entry
}
