package adapters

import (
	"context"
	"fmt"

	"stockledger_backend/internal/events"
	ledgerrepo "stockledger_backend/internal/ledger/repository"
	"stockledger_backend/platform/logger"
)

// reasonMappingCreated is recorded on the rebuild task a remap triggers.
const reasonMappingCreated = "mapping_created"

// ItemRemapper applies freshly created description mappings to line items
// ingested before the mapping existed. Remapping is the one sanctioned
// part_number update, and only from null. When rows change it announces a
// ledger change so balances get rebuilt.
type ItemRemapper struct {
	ledger ledgerrepo.ItemRemapper
	bus    events.Bus
	logger *logger.Logger
}

// NewItemRemapper creates the remap glue between catalog and ledger.
func NewItemRemapper(ledger ledgerrepo.ItemRemapper, bus events.Bus, log *logger.Logger) *ItemRemapper {
	return &ItemRemapper{ledger: ledger, bus: bus, logger: log}
}

// RegisterEventHandlers subscribes the remap trigger.
func (r *ItemRemapper) RegisterEventHandlers() {
	r.bus.Subscribe(events.MappingCreated{}.EventName(), events.HandlerFunc(r.onMappingCreated))
}

func (r *ItemRemapper) onMappingCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MappingCreated)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	remapped, err := r.ledger.RemapUnmappedItems(ctx, e.TenantID, e.RawDescription, e.PartNumber)
	if err != nil {
		return fmt.Errorf("remap items for %q: %w", e.RawDescription, err)
	}
	if remapped == 0 {
		return nil
	}

	r.logger.WithTenant(e.TenantID.String()).Info("remapped line items to part",
		"part_number", e.PartNumber,
		"description", e.RawDescription,
		"items", remapped,
	)

	r.bus.Publish(ctx, events.LedgerChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  e.TenantID,
		Reason:    reasonMappingCreated,
	})
	return nil
}
