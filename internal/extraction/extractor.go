// Package extraction turns uploaded invoice documents into structured
// line items using a vision model.
package extraction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Document is one file to extract from. CapturedAt, when known, is used
// as the occurred-at fallback for lines whose date the model could not
// read; zero means no better fallback than the extraction time exists.
type Document struct {
	Name       string
	MIME       string
	Data       []byte
	CapturedAt time.Time
}

// RawItem is one extracted invoice line before mapping. Direction is IN
// for goods received and OUT for goods leaving stock.
type RawItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitRate    *decimal.Decimal
	Direction   string
	OccurredAt  time.Time
}

// Result is the extraction outcome for one document.
type Result struct {
	Items      []RawItem
	Confidence float64
}

// Extractor extracts line items from invoice documents.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (*Result, error)

	// IsEnabled reports whether extraction is configured. A disabled
	// extractor fails per file, never at startup.
	IsEnabled() bool
}
