// Package domain holds the ledger's core types and the balance rebuild
// algorithm. It is pure: no I/O, no clock reads, no framework imports.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction marks whether a line item moves stock into or out of inventory.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ParseDirection normalizes a raw direction string.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN", "PURCHASE", "RECEIPT":
		return DirectionIn, nil
	case "OUT", "SALE", "ISSUE":
		return DirectionOut, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// LineItem is one extracted invoice line. Rows are immutable after insert;
// only the Excluded flag ever changes, and only through the replace flow.
type LineItem struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	DocumentID     uuid.UUID
	PartNumber     string // empty when the description could not be mapped
	RawDescription string
	Quantity       decimal.Decimal
	UnitRate       *decimal.Decimal
	Direction      Direction
	OccurredAt     time.Time
	LineNo         int
	Excluded       bool
	CreatedAt      time.Time
}

// PartRef identifies a part from the catalog for balance seeding.
type PartRef struct {
	PartNumber   string
	DisplayName  string
	ReorderPoint decimal.Decimal
}

// Adjustment is a manual stock correction, recorded as a signed delta.
type Adjustment struct {
	PartNumber string
	Delta      decimal.Decimal
	Reason     string
	CreatedAt  time.Time
}

// PartBalance is the derived stock position of one part. It is rebuilt
// wholesale by the aggregator and never updated incrementally.
type PartBalance struct {
	PartNumber       string
	DisplayName      string
	OnHand           decimal.Decimal
	TotalIn          decimal.Decimal
	TotalOut         decimal.Decimal
	ManualAdjustment decimal.Decimal
	ReorderPoint     decimal.Decimal
	LastInRate       *decimal.Decimal
	LastInAt         *time.Time
	LastOutRate      *decimal.Decimal
	LastOutAt        *time.Time
	UnitValue        decimal.Decimal
	StockValue       decimal.Decimal
	RecalculatedAt   time.Time
}

// Negative reports whether the part is oversold. Negative balances are
// kept visible rather than clamped so the data problem surfaces.
func (b PartBalance) Negative() bool {
	return b.OnHand.IsNegative()
}

// NeedsReorder reports whether on-hand stock has fallen to or under the
// part's reorder point. Parts without a reorder point never flag.
func (b PartBalance) NeedsReorder() bool {
	return b.ReorderPoint.IsPositive() && b.OnHand.LessThanOrEqual(b.ReorderPoint)
}
