package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	partBolts   = "BOLT-M8"
	partWashers = "WASH-8"
	partPlates  = "PLATE-A4"

	mismatchMsg = "expected %s, got %s"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

func decPtr(t *testing.T, value string) *decimal.Decimal {
	t.Helper()
	d := dec(t, value)
	return &d
}

func item(t *testing.T, part string, qty string, dir Direction, occurredAt time.Time) LineItem {
	t.Helper()
	return LineItem{
		ID:             uuid.New(),
		PartNumber:     part,
		RawDescription: part,
		Quantity:       dec(t, qty),
		Direction:      dir,
		OccurredAt:     occurredAt,
	}
}

func findBalance(t *testing.T, balances []PartBalance, part string) PartBalance {
	t.Helper()
	for _, b := range balances {
		if b.PartNumber == part {
			return b
		}
	}
	t.Fatalf("no balance row for part %s", part)
	return PartBalance{}
}

func TestRebuildIsIdempotent(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := day.Add(48 * time.Hour)

	parts := []PartRef{{PartNumber: partBolts}, {PartNumber: partWashers}}
	items := []LineItem{
		item(t, partBolts, "10", DirectionIn, day),
		item(t, partBolts, "4", DirectionOut, day.Add(time.Hour)),
		item(t, partWashers, "100", DirectionIn, day),
	}
	adjustments := []Adjustment{{PartNumber: partBolts, Delta: dec(t, "2")}}

	first := Rebuild(parts, items, adjustments, now)
	second := Rebuild(parts, items, adjustments, now)

	if len(first) != len(second) {
		t.Fatalf("expected equal row counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].PartNumber != second[i].PartNumber {
			t.Fatalf("row %d part mismatch: %s vs %s", i, first[i].PartNumber, second[i].PartNumber)
		}
		if !first[i].OnHand.Equal(second[i].OnHand) {
			t.Fatalf("row %d on-hand mismatch: %s vs %s", i, first[i].OnHand, second[i].OnHand)
		}
		if !first[i].StockValue.Equal(second[i].StockValue) {
			t.Fatalf("row %d stock value mismatch: %s vs %s", i, first[i].StockValue, second[i].StockValue)
		}
	}
}

func TestRebuildConservation(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	items := []LineItem{
		item(t, partBolts, "25", DirectionIn, day),
		item(t, partBolts, "7", DirectionOut, day.Add(time.Hour)),
		item(t, partBolts, "3", DirectionOut, day.Add(2*time.Hour)),
		item(t, partWashers, "50", DirectionIn, day),
		item(t, partWashers, "60", DirectionOut, day.Add(time.Hour)),
	}
	adjustments := []Adjustment{
		{PartNumber: partBolts, Delta: dec(t, "-1")},
		{PartNumber: partWashers, Delta: dec(t, "5")},
	}

	balances := Rebuild(nil, items, adjustments, day.Add(24*time.Hour))

	for _, b := range balances {
		want := b.TotalIn.Sub(b.TotalOut).Add(b.ManualAdjustment)
		if !b.OnHand.Equal(want) {
			t.Fatalf("part %s violates conservation: on_hand %s, expected %s", b.PartNumber, b.OnHand, want)
		}
	}

	bolts := findBalance(t, balances, partBolts)
	if !bolts.OnHand.Equal(dec(t, "14")) {
		t.Fatalf(mismatchMsg, "14", bolts.OnHand)
	}

	washers := findBalance(t, balances, partWashers)
	if !washers.OnHand.Equal(dec(t, "-5")) {
		t.Fatalf(mismatchMsg, "-5", washers.OnHand)
	}
	if !washers.Negative() {
		t.Fatal("expected oversold part to report negative")
	}
}

func TestRebuildSkipsExcludedItems(t *testing.T) {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	excluded := item(t, partBolts, "500", DirectionIn, day)
	excluded.Excluded = true

	items := []LineItem{
		item(t, partBolts, "10", DirectionIn, day),
		excluded,
	}

	balances := Rebuild(nil, items, nil, day)
	bolts := findBalance(t, balances, partBolts)

	if !bolts.TotalIn.Equal(dec(t, "10")) {
		t.Fatalf(mismatchMsg, "10", bolts.TotalIn)
	}
}

func TestRebuildSkipsUnmappedItems(t *testing.T) {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	unmapped := item(t, "", "99", DirectionIn, day)
	unmapped.RawDescription = "mystery part"

	balances := Rebuild(nil, []LineItem{unmapped}, nil, day)
	if len(balances) != 0 {
		t.Fatalf("expected no balance rows for unmapped items, got %d", len(balances))
	}
}

func TestRebuildEmitsZeroRowsForIdleParts(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	parts := []PartRef{{PartNumber: partPlates, DisplayName: "Steel plate A4", ReorderPoint: dec(t, "10")}}
	balances := Rebuild(parts, nil, nil, now)

	plates := findBalance(t, balances, partPlates)
	if !plates.OnHand.IsZero() || !plates.TotalIn.IsZero() || !plates.TotalOut.IsZero() {
		t.Fatalf("expected all-zero row for idle part, got %+v", plates)
	}
	if plates.LastInRate != nil || plates.LastInAt != nil {
		t.Fatalf("expected no last purchase for idle part, got %v at %v", plates.LastInRate, plates.LastInAt)
	}
	if plates.DisplayName != "Steel plate A4" {
		t.Fatalf(mismatchMsg, "Steel plate A4", plates.DisplayName)
	}
	if !plates.ReorderPoint.Equal(dec(t, "10")) {
		t.Fatalf(mismatchMsg, "10", plates.ReorderPoint)
	}
}

func TestRebuildEmitsRowsForUncataloguedParts(t *testing.T) {
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	balances := Rebuild(nil, []LineItem{item(t, partWashers, "5", DirectionIn, day)}, nil, day)
	washers := findBalance(t, balances, partWashers)
	if !washers.OnHand.Equal(dec(t, "5")) {
		t.Fatalf(mismatchMsg, "5", washers.OnHand)
	}
}

func TestLastRatePrefersLatestOccurrence(t *testing.T) {
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	older := item(t, partBolts, "10", DirectionIn, day)
	older.UnitRate = decPtr(t, "2.50")
	newer := item(t, partBolts, "1", DirectionIn, day.Add(24*time.Hour))
	newer.UnitRate = decPtr(t, "3.00")

	balances := Rebuild(nil, []LineItem{newer, older}, nil, day)
	bolts := findBalance(t, balances, partBolts)

	if bolts.LastInRate == nil || !bolts.LastInRate.Equal(dec(t, "3.00")) {
		t.Fatalf("expected rate 3.00 from latest purchase, got %v", bolts.LastInRate)
	}
	if bolts.LastInAt == nil || !bolts.LastInAt.Equal(newer.OccurredAt) {
		t.Fatalf("expected last purchase time %s, got %v", newer.OccurredAt, bolts.LastInAt)
	}
}

func TestLastRateTieBreaksOnQuantityThenPosition(t *testing.T) {
	day := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	small := item(t, partBolts, "5", DirectionIn, day)
	small.UnitRate = decPtr(t, "1.10")
	large := item(t, partBolts, "20", DirectionIn, day)
	large.UnitRate = decPtr(t, "1.20")

	balances := Rebuild(nil, []LineItem{large, small}, nil, day)
	bolts := findBalance(t, balances, partBolts)
	if bolts.LastInRate == nil || !bolts.LastInRate.Equal(dec(t, "1.20")) {
		t.Fatalf("expected higher-quantity rate 1.20, got %v", bolts.LastInRate)
	}

	// Same timestamp and quantity: the later insertion wins.
	first := item(t, partWashers, "10", DirectionIn, day)
	first.UnitRate = decPtr(t, "0.10")
	second := item(t, partWashers, "10", DirectionIn, day)
	second.UnitRate = decPtr(t, "0.15")

	balances = Rebuild(nil, []LineItem{first, second}, nil, day)
	washers := findBalance(t, balances, partWashers)
	if washers.LastInRate == nil || !washers.LastInRate.Equal(dec(t, "0.15")) {
		t.Fatalf("expected later insertion rate 0.15, got %v", washers.LastInRate)
	}
}

func TestRatelessPurchaseNeverDisplacesRate(t *testing.T) {
	day := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)

	rated := item(t, partBolts, "10", DirectionIn, day)
	rated.UnitRate = decPtr(t, "4.00")
	rateless := item(t, partBolts, "10", DirectionIn, day.Add(48*time.Hour))

	balances := Rebuild(nil, []LineItem{rated, rateless}, nil, day)
	bolts := findBalance(t, balances, partBolts)
	if bolts.LastInRate == nil || !bolts.LastInRate.Equal(dec(t, "4.00")) {
		t.Fatalf("expected rate 4.00 to survive rateless purchase, got %v", bolts.LastInRate)
	}
}

func TestRatesTrackedPerDirection(t *testing.T) {
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	purchase := item(t, partBolts, "10", DirectionIn, day)
	purchase.UnitRate = decPtr(t, "2.00")
	sale := item(t, partBolts, "4", DirectionOut, day.Add(24*time.Hour))
	sale.UnitRate = decPtr(t, "3.50")

	balances := Rebuild(nil, []LineItem{purchase, sale}, nil, day)
	bolts := findBalance(t, balances, partBolts)

	if bolts.LastInRate == nil || !bolts.LastInRate.Equal(dec(t, "2.00")) {
		t.Fatalf("expected purchase rate 2.00, got %v", bolts.LastInRate)
	}
	if bolts.LastOutRate == nil || !bolts.LastOutRate.Equal(dec(t, "3.50")) {
		t.Fatalf("expected sale rate 3.50, got %v", bolts.LastOutRate)
	}
	if bolts.LastOutAt == nil || !bolts.LastOutAt.Equal(sale.OccurredAt) {
		t.Fatalf("expected last sale time %s, got %v", sale.OccurredAt, bolts.LastOutAt)
	}
	// The part is valued at its purchase rate, not its sale rate.
	if !bolts.UnitValue.Equal(dec(t, "2.00")) {
		t.Fatalf(mismatchMsg, "2.00", bolts.UnitValue)
	}
	if !bolts.StockValue.Equal(dec(t, "12.00")) {
		t.Fatalf(mismatchMsg, "12.00", bolts.StockValue)
	}
}

func TestNeedsReorderFlag(t *testing.T) {
	day := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)

	parts := []PartRef{{PartNumber: partBolts, ReorderPoint: dec(t, "10")}}
	items := []LineItem{
		item(t, partBolts, "12", DirectionIn, day),
		item(t, partBolts, "4", DirectionOut, day.Add(time.Hour)),
	}

	balances := Rebuild(parts, items, nil, day)
	bolts := findBalance(t, balances, partBolts)
	if !bolts.NeedsReorder() {
		t.Fatalf("expected reorder flag at on-hand %s with reorder point %s", bolts.OnHand, bolts.ReorderPoint)
	}

	// Plenty of stock and no reorder point both stay quiet.
	balances = Rebuild(parts, []LineItem{item(t, partBolts, "50", DirectionIn, day)}, nil, day)
	if findBalance(t, balances, partBolts).NeedsReorder() {
		t.Fatal("expected no reorder flag with ample stock")
	}
	balances = Rebuild(nil, items, nil, day)
	if findBalance(t, balances, partBolts).NeedsReorder() {
		t.Fatal("expected no reorder flag without a reorder point")
	}
}

func TestRebuildScenarioAdjustThenIngest(t *testing.T) {
	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Opening stock of 5 arrives as a manual adjustment, then an invoice
	// brings in 3 more.
	adjustments := []Adjustment{{PartNumber: partBolts, Delta: dec(t, "5")}}
	items := []LineItem{item(t, partBolts, "3", DirectionIn, day)}

	balances := Rebuild(nil, items, adjustments, day)
	bolts := findBalance(t, balances, partBolts)
	if !bolts.OnHand.Equal(dec(t, "8")) {
		t.Fatalf(mismatchMsg, "8", bolts.OnHand)
	}

	// A later outbound invoice for 2 lands and the ledger is rebuilt.
	items = append(items, item(t, partBolts, "2", DirectionOut, day.Add(time.Hour)))

	balances = Rebuild(nil, items, adjustments, day.Add(2*time.Hour))
	bolts = findBalance(t, balances, partBolts)
	if !bolts.OnHand.Equal(dec(t, "6")) {
		t.Fatalf(mismatchMsg, "6", bolts.OnHand)
	}
}

func TestStockValueZeroWhenOversoldOrRateless(t *testing.T) {
	day := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	sold := item(t, partBolts, "10", DirectionOut, day)
	balances := Rebuild(nil, []LineItem{sold}, nil, day)
	bolts := findBalance(t, balances, partBolts)
	if !bolts.StockValue.IsZero() {
		t.Fatalf("expected zero stock value for oversold part, got %s", bolts.StockValue)
	}

	bought := item(t, partWashers, "10", DirectionIn, day)
	bought.UnitRate = decPtr(t, "0.50")
	balances = Rebuild(nil, []LineItem{bought}, nil, day)
	washers := findBalance(t, balances, partWashers)
	if !washers.UnitValue.Equal(dec(t, "0.50")) {
		t.Fatalf(mismatchMsg, "0.50", washers.UnitValue)
	}
	if !washers.StockValue.Equal(dec(t, "5.00")) {
		t.Fatalf(mismatchMsg, "5.00", washers.StockValue)
	}
}

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{
		"in":       DirectionIn,
		"IN":       DirectionIn,
		" Receipt": DirectionIn,
		"purchase": DirectionIn,
		"out":      DirectionOut,
		"Sale":     DirectionOut,
		"issue":    DirectionOut,
	}
	for raw, want := range cases {
		got, err := ParseDirection(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}

	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}
