package engine

import (
	"testing"

	"pangkalangas/backend/internal/domain"
)

func TestReservedGasLineClaimsItsLinkedCylinder(t *testing.T) {
	// Scenario: a gas line for 2 units linked to Tabung 3kg. Querying the
	// cylinder's "full" pool must see both units reserved.
	cart := []domain.CartLine{{
		Category:       domain.CategoryGas,
		Item:           domain.ItemRef{ID: "gas-3", Name: "Gas Isi 3kg"},
		Quantity:       2,
		LinkedCylinder: &domain.ItemRef{ID: "tab-3", Name: "Tabung 3kg"},
	}}

	got := Reserved(cart, domain.ItemRef{ID: "tab-3", Name: "Tabung 3kg"}, domain.CategoryCylinder, domain.StatusFull)
	if got != 2 {
		t.Fatalf("reserved = %d, want 2", got)
	}

	// The empty pool is untouched by gas lines.
	if got := Reserved(cart, domain.ItemRef{ID: "tab-3"}, domain.CategoryCylinder, domain.StatusEmpty); got != 0 {
		t.Fatalf("empty pool reserved = %d, want 0", got)
	}
}

func TestReservedFullCylinderSaleClaimsItsLinkedGas(t *testing.T) {
	cart := []domain.CartLine{{
		Category:  domain.CategoryCylinder,
		Item:      domain.ItemRef{ID: "tab-12", Name: "Tabung 12kg"},
		Quantity:  3,
		Status:    domain.StatusFull,
		LinkedGas: &domain.ItemRef{ID: "gas-12", Name: "Gas Isi 12kg"},
	}}

	if got := Reserved(cart, domain.ItemRef{ID: "gas-12"}, domain.CategoryGas, ""); got != 3 {
		t.Fatalf("gas reserved = %d, want 3", got)
	}
}

func TestReservedMatchesStatusExactly(t *testing.T) {
	cart := []domain.CartLine{
		{Category: domain.CategoryCylinder, Item: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 2, Status: domain.StatusEmpty},
		{Category: domain.CategoryCylinder, Item: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 1, Status: domain.StatusFull},
	}

	if got := Reserved(cart, domain.ItemRef{Name: "tabung  3KG"}, domain.CategoryCylinder, domain.StatusEmpty); got != 2 {
		t.Fatalf("empty reserved = %d, want 2", got)
	}
	if got := Reserved(cart, domain.ItemRef{Name: "Tabung 3kg"}, domain.CategoryCylinder, domain.StatusFull); got != 1 {
		t.Fatalf("full reserved = %d, want 1", got)
	}
}

func TestReservedNeverDoubleSpends(t *testing.T) {
	// Authoritative full stock for Tabung 3kg is 2. A gas line linked to the
	// cylinder already claims both units, so a full-cylinder sale line for
	// one more unit must see zero remaining.
	authoritative := 2
	cart := []domain.CartLine{{
		Category:       domain.CategoryGas,
		Item:           domain.ItemRef{Name: "Gas Isi 3kg"},
		Quantity:       2,
		LinkedCylinder: &domain.ItemRef{Name: "Tabung 3kg"},
	}}

	reserved := Reserved(cart, domain.ItemRef{Name: "Tabung 3kg"}, domain.CategoryCylinder, domain.StatusFull)
	available := authoritative - reserved
	if available != 0 {
		t.Fatalf("available = %d, want 0", available)
	}
	required := 1
	if required <= available {
		t.Fatalf("line for %d unit(s) must be rejected", required)
	}
}

func TestSameItemPrefersStableIDs(t *testing.T) {
	if !SameItem(domain.ItemRef{ID: "x", Name: "Old Name"}, domain.ItemRef{ID: "x", Name: "New Name"}) {
		t.Fatalf("matching ids must match despite renamed item")
	}
	if SameItem(domain.ItemRef{ID: "x", Name: "Same"}, domain.ItemRef{ID: "y", Name: "Same"}) {
		t.Fatalf("distinct ids must not match even with equal names")
	}
	if !SameItem(domain.ItemRef{Name: " Tabung 3kg "}, domain.ItemRef{Name: "tabung 3kg"}) {
		t.Fatalf("normalized names must match when an id is missing")
	}
	if SameItem(domain.ItemRef{Name: "  "}, domain.ItemRef{Name: ""}) {
		t.Fatalf("blank names must never match each other")
	}
}
