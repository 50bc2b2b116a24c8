// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"stockledger_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Ingestion Domain Events
// =============================================================================

// IngestBatchCompleted is published when an ingestion batch finishes
// successfully and new ledger rows exist.
type IngestBatchCompleted struct {
	BaseEvent
	TaskID    uuid.UUID `json:"taskId"`
	TenantID  uuid.UUID `json:"tenantId"`
	Documents int       `json:"documents"`
	Items     int       `json:"items"`
}

func (e IngestBatchCompleted) EventName() string { return "ingest.batch.completed" }

// =============================================================================
// Ledger Domain Events
// =============================================================================

// LedgerChanged is published whenever ledger inputs change outside of
// ingestion: manual adjustments, replace resolutions, remapped items.
// Subscribers treat it as a hint that balances are stale.
type LedgerChanged struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	Reason   string    `json:"reason"`
}

func (e LedgerChanged) EventName() string { return "ledger.changed" }

// =============================================================================
// Catalog Domain Events
// =============================================================================

// MappingCreated is published when a new description mapping is registered,
// so previously unmapped line items can be picked up.
type MappingCreated struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	PartNumber     string    `json:"partNumber"`
	RawDescription string    `json:"rawDescription"`
}

func (e MappingCreated) EventName() string { return "catalog.mapping.created" }
