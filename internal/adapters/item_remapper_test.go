package adapters

import (
	"context"
	"errors"
	"testing"

	"stockledger_backend/internal/events"
	"stockledger_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeLedgerRemapper struct {
	remapped    int64
	err         error
	tenantID    uuid.UUID
	description string
	partNumber  string
	calls       int
}

func (f *fakeLedgerRemapper) RemapUnmappedItems(_ context.Context, tenantID uuid.UUID, rawDescription, partNumber string) (int64, error) {
	f.calls++
	f.tenantID = tenantID
	f.description = rawDescription
	f.partNumber = partNumber
	return f.remapped, f.err
}

type fakeBus struct {
	published []events.Event
}

func (f *fakeBus) Publish(_ context.Context, event events.Event) {
	f.published = append(f.published, event)
}

func (f *fakeBus) PublishSync(_ context.Context, event events.Event) error {
	f.published = append(f.published, event)
	return nil
}

func (f *fakeBus) Subscribe(string, events.Handler) {}

func TestMappingCreatedRemapsAndAnnouncesChange(t *testing.T) {
	ledger := &fakeLedgerRemapper{remapped: 3}
	bus := &fakeBus{}
	remapper := NewItemRemapper(ledger, bus, logger.New("development"))

	tenantID := uuid.New()
	err := remapper.onMappingCreated(context.Background(), events.MappingCreated{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		PartNumber:     "STL-A4",
		RawDescription: "steel plate a4",
	})
	if err != nil {
		t.Fatalf("expected remap to succeed, got %v", err)
	}

	if ledger.tenantID != tenantID || ledger.description != "steel plate a4" || ledger.partNumber != "STL-A4" {
		t.Fatalf("unexpected remap call: %+v", ledger)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one event, got %d", len(bus.published))
	}
	changed, ok := bus.published[0].(events.LedgerChanged)
	if !ok {
		t.Fatalf("expected LedgerChanged, got %T", bus.published[0])
	}
	if changed.TenantID != tenantID || changed.Reason != reasonMappingCreated {
		t.Fatalf("unexpected event payload: %+v", changed)
	}
}

func TestMappingCreatedWithNoMatchesStaysQuiet(t *testing.T) {
	ledger := &fakeLedgerRemapper{remapped: 0}
	bus := &fakeBus{}
	remapper := NewItemRemapper(ledger, bus, logger.New("development"))

	err := remapper.onMappingCreated(context.Background(), events.MappingCreated{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       uuid.New(),
		PartNumber:     "STL-A4",
		RawDescription: "steel plate a4",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ledger.calls != 1 {
		t.Fatalf("expected one remap call, got %d", ledger.calls)
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no events, got %d", len(bus.published))
	}
}

func TestMappingCreatedPropagatesRepoError(t *testing.T) {
	ledger := &fakeLedgerRemapper{err: errors.New("connection reset")}
	bus := &fakeBus{}
	remapper := NewItemRemapper(ledger, bus, logger.New("development"))

	err := remapper.onMappingCreated(context.Background(), events.MappingCreated{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       uuid.New(),
		PartNumber:     "STL-A4",
		RawDescription: "steel plate a4",
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no events after failure, got %d", len(bus.published))
	}
}

func TestMappingCreatedRejectsForeignEvent(t *testing.T) {
	remapper := NewItemRemapper(&fakeLedgerRemapper{}, &fakeBus{}, logger.New("development"))

	err := remapper.onMappingCreated(context.Background(), events.LedgerChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  uuid.New(),
	})
	if err == nil {
		t.Fatal("expected a type mismatch error")
	}
}
