package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"
)

func floatPtr(f float64) *float64 { return &f }

func TestBuildResultDropsUntrustedLines(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := wirePayload{
		Confidence: 0.9,
		Items: []wireItem{
			{Description: "Steel plate A4", Quantity: 5, UnitRate: floatPtr(12.50), Direction: "IN", OccurredAt: "2026-02-27"},
			{Description: "Subtotal artifact", Quantity: 0, Direction: "IN"},
			{Description: "Negative quantity", Quantity: -3, Direction: "OUT"},
			{Description: "Unknown direction", Quantity: 2, Direction: "SIDEWAYS"},
			{Description: "   ", Quantity: 7, Direction: "IN"},
			{Description: "copper pipe 2m", Quantity: 4, Direction: "out"},
		},
	}

	result := buildResult(payload, "invoice.pdf", fallback, logger.New("development"))

	if len(result.Items) != 2 {
		t.Fatalf("expected 2 surviving items, got %d: %+v", len(result.Items), result.Items)
	}

	first := result.Items[0]
	if first.Description != "Steel plate A4" || first.Direction != "IN" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.UnitRate == nil || !first.UnitRate.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected unit rate 12.5, got %v", first.UnitRate)
	}
	if !first.OccurredAt.Equal(time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected parsed document date, got %v", first.OccurredAt)
	}

	second := result.Items[1]
	if second.Direction != "OUT" {
		t.Fatalf("expected lowercase direction normalized, got %q", second.Direction)
	}
	if !second.OccurredAt.Equal(fallback) {
		t.Fatalf("expected fallback time for missing date, got %v", second.OccurredAt)
	}
}

func TestBuildResultNormalizesConfidence(t *testing.T) {
	log := logger.New("development")

	cases := []struct {
		in   float64
		want float64
	}{
		{0.85, 0.85},
		{85, 0.85},
		{150, 1},
		{-0.2, 0},
	}
	for _, tc := range cases {
		result := buildResult(wirePayload{Confidence: tc.in}, "doc.pdf", time.Now(), log)
		if result.Confidence != tc.want {
			t.Fatalf("confidence %v: expected %v, got %v", tc.in, tc.want, result.Confidence)
		}
	}
}

func TestBuildResultTreatsZeroRateAsAbsent(t *testing.T) {
	payload := wirePayload{
		Confidence: 1,
		Items: []wireItem{
			{Description: "freebie", Quantity: 1, UnitRate: floatPtr(0), Direction: "IN"},
		},
	}

	result := buildResult(payload, "doc.pdf", time.Now().UTC(), logger.New("development"))
	if len(result.Items) != 1 {
		t.Fatalf("expected item kept, got %d", len(result.Items))
	}
	if result.Items[0].UnitRate != nil {
		t.Fatalf("expected zero rate treated as absent, got %v", result.Items[0].UnitRate)
	}
}

func TestDisabledExtractorFailsPerCall(t *testing.T) {
	extractor, err := NewGeminiExtractor(context.Background(), "", "", logger.New("development"))
	if err != nil {
		t.Fatalf("constructor must not fail without a key: %v", err)
	}
	if extractor.IsEnabled() {
		t.Fatal("expected extractor disabled without api key")
	}

	_, err = extractor.Extract(context.Background(), Document{Name: "a.pdf", MIME: "application/pdf"})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestParseDocumentDate(t *testing.T) {
	if got, ok := parseDocumentDate("2026-02-27"); !ok || got != time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("expected date-only layout parsed, got %v ok=%v", got, ok)
	}
	if got, ok := parseDocumentDate("2026-02-27T10:30:00Z"); !ok || !got.Equal(time.Date(2026, 2, 27, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected RFC3339 parsed, got %v ok=%v", got, ok)
	}
	if _, ok := parseDocumentDate("27/02/2026"); ok {
		t.Fatal("expected unknown layout rejected")
	}
}
