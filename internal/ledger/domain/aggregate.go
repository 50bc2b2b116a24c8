package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// rateTrack keeps the winning "last rate" candidate for one direction.
// The rate and timestamp always come from the same winning item.
type rateTrack struct {
	rate *decimal.Decimal
	at   time.Time
	qty  decimal.Decimal
	seen int
}

// observe applies the tie-break rules: latest occurred_at wins, equal
// timestamps go to the larger quantity, still equal goes to the later
// insertion position. Items without a rate never reach here, so a rate
// once seen is never displaced by a rateless item.
func (t *rateTrack) observe(rate decimal.Decimal, occurredAt time.Time, qty decimal.Decimal, seen int) {
	if t.rate != nil {
		if occurredAt.Before(t.at) {
			return
		}
		if occurredAt.Equal(t.at) {
			if qty.LessThan(t.qty) {
				return
			}
			if qty.Equal(t.qty) && seen < t.seen {
				return
			}
		}
	}

	r := rate
	t.rate = &r
	t.at = occurredAt
	t.qty = qty
	t.seen = seen
}

// accumulator collects per-part running totals during a rebuild.
type accumulator struct {
	totalIn    decimal.Decimal
	totalOut   decimal.Decimal
	adjustment decimal.Decimal

	in  rateTrack
	out rateTrack
}

// Rebuild computes every part balance from scratch. The output depends only
// on the inputs: calling it twice with the same arguments yields equal
// results, so a rebuild can always be safely re-run.
//
// Excluded items and items without a part number are skipped. Every part in
// the catalog gets a row even with zero transactions, and parts that appear
// only in items or adjustments get rows too.
func Rebuild(parts []PartRef, items []LineItem, adjustments []Adjustment, now time.Time) []PartBalance {
	accs := make(map[string]*accumulator)
	refs := make(map[string]PartRef, len(parts))

	ensure := func(partNumber string) *accumulator {
		acc, ok := accs[partNumber]
		if !ok {
			acc = &accumulator{in: rateTrack{seen: -1}, out: rateTrack{seen: -1}}
			accs[partNumber] = acc
		}
		return acc
	}

	for _, part := range parts {
		refs[part.PartNumber] = part
		ensure(part.PartNumber)
	}

	for i, item := range items {
		if item.Excluded || item.PartNumber == "" {
			continue
		}

		acc := ensure(item.PartNumber)
		switch item.Direction {
		case DirectionIn:
			acc.totalIn = acc.totalIn.Add(item.Quantity)
			if item.UnitRate != nil {
				acc.in.observe(*item.UnitRate, item.OccurredAt, item.Quantity, i)
			}
		case DirectionOut:
			acc.totalOut = acc.totalOut.Add(item.Quantity)
			if item.UnitRate != nil {
				acc.out.observe(*item.UnitRate, item.OccurredAt, item.Quantity, i)
			}
		}
	}

	for _, adj := range adjustments {
		acc := ensure(adj.PartNumber)
		acc.adjustment = acc.adjustment.Add(adj.Delta)
	}

	balances := make([]PartBalance, 0, len(accs))
	for partNumber, acc := range accs {
		balances = append(balances, acc.balance(partNumber, refs[partNumber], now))
	}

	sort.Slice(balances, func(i, j int) bool {
		return balances[i].PartNumber < balances[j].PartNumber
	})

	return balances
}

func (a *accumulator) balance(partNumber string, ref PartRef, now time.Time) PartBalance {
	onHand := a.totalIn.Sub(a.totalOut).Add(a.adjustment)

	// The part is valued at its last purchase rate. Oversold stock is not
	// valued at a negative amount.
	unitValue := decimal.Zero
	if a.in.rate != nil {
		unitValue = *a.in.rate
	}
	stockValue := decimal.Zero
	if onHand.IsPositive() {
		stockValue = onHand.Mul(unitValue)
	}

	b := PartBalance{
		PartNumber:       partNumber,
		DisplayName:      ref.DisplayName,
		OnHand:           onHand,
		TotalIn:          a.totalIn,
		TotalOut:         a.totalOut,
		ManualAdjustment: a.adjustment,
		ReorderPoint:     ref.ReorderPoint,
		LastInRate:       a.in.rate,
		LastOutRate:      a.out.rate,
		UnitValue:        unitValue,
		StockValue:       stockValue,
		RecalculatedAt:   now,
	}
	if a.in.rate != nil {
		at := a.in.at
		b.LastInAt = &at
	}
	if a.out.rate != nil {
		at := a.out.at
		b.LastOutAt = &at
	}
	return b
}
