package engine

import (
	"math"
	"testing"
	"time"

	"pangkalangas/backend/internal/domain"
)

var jakarta = time.FixedZone("WIB", 7*3600)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04", value, jakarta)
	if err != nil {
		t.Fatalf("bad fixture time %q: %v", value, err)
	}
	return parsed
}

func TestAggregateAttributesGasSaleToSourceCylinder(t *testing.T) {
	sales := []domain.GasSaleLine{
		{
			Item:     domain.ItemRef{ID: "gas-3", Name: "Gas Isi 3kg"},
			Quantity: 4,
			Cylinder: &domain.ItemRef{ID: "tab-3", Name: "Tabung 3kg"},
			SoldAt:   at(t, "2024-03-01 09:30"),
		},
		// No cylinder reference: falls back to the gas item itself.
		{
			Item:     domain.ItemRef{ID: "gas-12", Name: "Gas Isi 12kg"},
			Quantity: 2,
			SoldAt:   at(t, "2024-03-01 10:00"),
		},
	}

	totals, err := Aggregate("2024-03-01", jakarta, sales, CylinderActivity{}, nil)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if got := totals.ByKey["tabung 3kg"].GasSales; got != 4 {
		t.Fatalf("expected gas sale attributed to cylinder, got %d", got)
	}
	if _, ok := totals.ByKey["gas isi 3kg"]; ok {
		t.Fatalf("gas item should not accumulate when the cylinder reference is present")
	}
	if got := totals.ByKey["gas isi 12kg"].GasSales; got != 2 {
		t.Fatalf("expected fallback attribution to gas item, got %d", got)
	}
}

func TestAggregateFullCylinderSaleDoesNotDoubleCountGas(t *testing.T) {
	activity := CylinderActivity{
		Sales: []domain.CylinderSaleLine{{
			Item:     domain.ItemRef{ID: "tab-3", Name: "Tabung 3kg"},
			Quantity: 3,
			Status:   domain.StatusFull,
			Gas:      &domain.ItemRef{ID: "gas-3", Name: "Gas Isi 3kg"},
			SoldAt:   at(t, "2024-03-01 11:00"),
		}},
	}

	totals, err := Aggregate("2024-03-01", jakarta, nil, activity, nil)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if got := totals.ByKey["tabung 3kg"].CylinderSales; got != 3 {
		t.Fatalf("expected 3 cylinder sales, got %d", got)
	}
	if _, ok := totals.ByKey["gas isi 3kg"]; ok {
		t.Fatalf("full-cylinder sale must not produce a separate gas-sale count")
	}
}

func TestAggregateRefillsDepositsReturns(t *testing.T) {
	activity := CylinderActivity{
		Deposits: []domain.DepositRecord{{
			Item: domain.ItemRef{Name: "Tabung 12kg"}, Quantity: 2, RecordedAt: at(t, "2024-03-01 08:00"),
		}},
		Returns: []domain.ReturnRecord{{
			Item: domain.ItemRef{Name: "Tabung 12kg"}, Quantity: 1, RecordedAt: at(t, "2024-03-01 16:00"),
		}},
	}
	refills := []domain.RefillRecord{{
		Cylinder: domain.ItemRef{Name: "Tabung 12kg"}, Quantity: 5, RefilledAt: at(t, "2024-03-01 07:00"),
	}}

	totals, err := Aggregate("2024-03-01", jakarta, nil, activity, refills)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	tot := totals.ByKey["tabung 12kg"]
	if tot.Refilled != 5 || tot.Deposits != 2 || tot.Returns != 1 {
		t.Fatalf("unexpected totals: %+v", tot)
	}
}

func TestAggregateDiscardsRecordsOutsideDayWindow(t *testing.T) {
	refills := []domain.RefillRecord{
		{Cylinder: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 5, RefilledAt: at(t, "2024-02-29 23:59")},
		{Cylinder: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 7, RefilledAt: at(t, "2024-03-01 00:00")},
		{Cylinder: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 9, RefilledAt: at(t, "2024-03-02 00:00")},
	}

	totals, err := Aggregate("2024-03-01", jakarta, nil, CylinderActivity{}, refills)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if got := totals.ByKey["tabung 3kg"].Refilled; got != 7 {
		t.Fatalf("expected only the in-window refill, got %d", got)
	}
}

func TestAggregateSkipsUnidentifiedItems(t *testing.T) {
	refills := []domain.RefillRecord{
		{Cylinder: domain.ItemRef{Name: "   "}, Quantity: 5, RefilledAt: at(t, "2024-03-01 07:00")},
		{Cylinder: domain.ItemRef{Name: "Tabung 3kg"}, Quantity: 2, RefilledAt: at(t, "2024-03-01 07:30")},
	}

	totals, err := Aggregate("2024-03-01", jakarta, nil, CylinderActivity{}, refills)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if totals.Skipped != 1 {
		t.Fatalf("expected 1 skipped record, got %d", totals.Skipped)
	}
	if len(totals.ByKey) != 1 {
		t.Fatalf("blank names must never aggregate together: %+v", totals.ByKey)
	}
}

func TestAggregateByIDFallback(t *testing.T) {
	refills := []domain.RefillRecord{{
		Cylinder: domain.ItemRef{ID: "tab-3", Name: "Tabung 3kg"}, Quantity: 4, RefilledAt: at(t, "2024-03-01 07:00"),
	}}

	totals, err := Aggregate("2024-03-01", jakarta, nil, CylinderActivity{}, refills)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	// The catalog renamed the item; the stable id still resolves.
	tot, ok := totals.Get("tabung gas 3kg", "tab-3")
	if !ok || tot.Refilled != 4 {
		t.Fatalf("expected id fallback to resolve totals, got %+v ok=%t", tot, ok)
	}
}

func TestCoerceQty(t *testing.T) {
	cases := []struct {
		raw  float64
		want int
	}{
		{raw: 3, want: 3},
		{raw: 2.9, want: 2},
		{raw: 0, want: 0},
		{raw: -4, want: 0},
		{raw: math.NaN(), want: 0},
		{raw: math.Inf(1), want: 0},
	}
	for _, tc := range cases {
		if got := CoerceQty(tc.raw); got != tc.want {
			t.Fatalf("CoerceQty(%v) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestAggregateRejectsBadDate(t *testing.T) {
	if _, err := Aggregate("01-03-2024", jakarta, nil, CylinderActivity{}, nil); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}
