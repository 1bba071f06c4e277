package engine

import (
	"pangkalangas/backend/internal/domain"
	"pangkalangas/backend/internal/itemkey"
)

// Reserved sums how many units of the queried item/status are already
// claimed by cart lines that have not been submitted yet. Availability
// checks subtract this soft reservation from the authoritative stock count
// before a line is accepted: three lines each individually under the stock
// ceiling must not collectively oversell.
//
// Cross-item dependencies are counted both ways: a gas line consumes a full
// cylinder at submit time (its linked cylinder gains a "full" reservation),
// and a full-cylinder sale swaps in gas (its linked gas item gains a gas
// reservation).
func Reserved(cart []domain.CartLine, ref domain.ItemRef, category domain.ItemCategory, status domain.CylinderStatus) int {
	reserved := 0
	for _, line := range cart {
		switch category {
		case domain.CategoryGas:
			if line.Category == domain.CategoryGas && SameItem(line.Item, ref) {
				reserved += line.Quantity
			}
			if line.Category == domain.CategoryCylinder && line.Status == domain.StatusFull &&
				line.LinkedGas != nil && SameItem(*line.LinkedGas, ref) {
				reserved += line.Quantity
			}
		case domain.CategoryCylinder:
			if line.Category == domain.CategoryCylinder && line.Status == status && SameItem(line.Item, ref) {
				reserved += line.Quantity
			}
			if status == domain.StatusFull && line.Category == domain.CategoryGas &&
				line.LinkedCylinder != nil && SameItem(*line.LinkedCylinder, ref) {
				reserved += line.Quantity
			}
		}
	}
	return reserved
}

// SameItem reports whether two references name the same item: stable ids
// when both sides carry one, normalized names otherwise. Two references
// that both normalize to the empty key never match.
func SameItem(a, b domain.ItemRef) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	keyA := itemkey.Normalize(a.Name)
	keyB := itemkey.Normalize(b.Name)
	return keyA != "" && keyA == keyB
}
