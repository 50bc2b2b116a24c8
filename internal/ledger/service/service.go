// Package service implements the stock recalculation coordinator. It owns
// the decision of when a rebuild may run; the math itself lives in domain.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockledger_backend/internal/events"
	"stockledger_backend/internal/ledger/domain"
	"stockledger_backend/internal/ledger/repository"
	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"
	"stockledger_backend/platform/sanitize"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	msgPartRequired   = "part number is required"
	msgZeroAdjustment = "adjustment quantity must be non-zero"
)

// Rebuild trigger reasons recorded on the recalculation task.
const (
	ReasonManualRequest    = "manual_request"
	ReasonIngestCompleted  = "ingest_completed"
	ReasonManualAdjustment = "manual_adjustment"
)

const rebuildTimeout = 2 * time.Minute

// TaskLog records recalculation lifecycle transitions in the task store.
type TaskLog interface {
	CreateRecalc(ctx context.Context, tenantID uuid.UUID, reason string) (uuid.UUID, error)
	MarkRunning(ctx context.Context, taskID uuid.UUID) error
	MarkLockDenied(ctx context.Context, taskID uuid.UUID) error
	MarkSucceeded(ctx context.Context, taskID uuid.UUID, partsTracked, itemsApplied int) error
	MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error
}

// PartDirectory exposes the catalog's parts so every known part gets a
// balance row even when no ledger rows mention it.
type PartDirectory interface {
	ListPartRefs(ctx context.Context, tenantID uuid.UUID) ([]domain.PartRef, error)
}

// RebuildReceipt reports how a recalculation request was admitted.
type RebuildReceipt struct {
	TaskID     uuid.UUID
	LockDenied bool
}

// AdjustmentInput carries a manual stock correction.
type AdjustmentInput struct {
	PartNumber string
	Delta      decimal.Decimal
	Reason     string
}

// Service coordinates full-ledger balance rebuilds behind a per-tenant
// advisory lock.
type Service struct {
	repo   repository.Repository
	tasks  TaskLog
	parts  PartDirectory
	bus    events.Bus
	logger *logger.Logger

	wg sync.WaitGroup
}

// NewService creates the recalculation coordinator.
func NewService(repo repository.Repository, tasks TaskLog, parts PartDirectory, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		tasks:  tasks,
		parts:  parts,
		bus:    bus,
		logger: log,
	}
}

// StartRebuild admits a recalculation request. The lock attempt is
// single-shot: when another rebuild holds the tenant lock the task is
// recorded as LOCK_DENIED and the caller decides whether to retry. On a
// granted lock the rebuild runs in the background and the receipt carries
// the RUNNING task id.
func (s *Service) StartRebuild(ctx context.Context, tenantID uuid.UUID, reason string) (RebuildReceipt, error) {
	taskID, err := s.tasks.CreateRecalc(ctx, tenantID, reason)
	if err != nil {
		return RebuildReceipt{}, fmt.Errorf("create recalculation task: %w", err)
	}

	lock, acquired, err := s.repo.AcquireRebuildLock(ctx, tenantID)
	if err != nil {
		if ferr := s.tasks.MarkFailed(ctx, taskID, "lock acquisition error: "+err.Error()); ferr != nil {
			s.logger.DatabaseError("mark recalculation failed", ferr)
		}
		return RebuildReceipt{}, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	if !acquired {
		if err := s.tasks.MarkLockDenied(ctx, taskID); err != nil {
			return RebuildReceipt{}, fmt.Errorf("mark task lock denied: %w", err)
		}
		return RebuildReceipt{TaskID: taskID, LockDenied: true}, nil
	}

	if err := s.tasks.MarkRunning(ctx, taskID); err != nil {
		lock.Release(ctx)
		return RebuildReceipt{}, fmt.Errorf("mark task running: %w", err)
	}

	s.wg.Add(1)
	go s.runRebuild(lock, taskID, tenantID)

	return RebuildReceipt{TaskID: taskID}, nil
}

// runRebuild executes one locked rebuild to completion. The lock is
// released on every exit path.
func (s *Service) runRebuild(lock repository.RebuildLock, taskID, tenantID uuid.UUID) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
	defer cancel()
	defer lock.Release(ctx)

	log := s.logger.WithTenant(tenantID.String()).WithTask(taskID.String())

	tracked, applied, err := s.rebuild(ctx, tenantID)
	if err != nil {
		log.Error("stock recalculation failed", "error", err.Error())
		if ferr := s.tasks.MarkFailed(ctx, taskID, err.Error()); ferr != nil {
			s.logger.DatabaseError("mark recalculation failed", ferr)
		}
		return
	}

	if err := s.tasks.MarkSucceeded(ctx, taskID, tracked, applied); err != nil {
		s.logger.DatabaseError("mark recalculation succeeded", err)
		return
	}

	log.Info("stock recalculation complete", "parts_tracked", tracked, "items_applied", applied)
}

// rebuild loads all inputs, derives balances from scratch and swaps the
// stored set atomically.
func (s *Service) rebuild(ctx context.Context, tenantID uuid.UUID) (partsTracked, itemsApplied int, err error) {
	parts, err := s.parts.ListPartRefs(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("list catalog parts: %w", err)
	}

	items, err := s.repo.ListActiveItems(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("list active line items: %w", err)
	}

	adjustments, err := s.repo.ListAdjustments(ctx, tenantID)
	if err != nil {
		return 0, 0, fmt.Errorf("list adjustments: %w", err)
	}

	balances := domain.Rebuild(parts, items, adjustments, time.Now().UTC())

	if err := s.repo.ReplaceBalances(ctx, tenantID, balances); err != nil {
		return 0, 0, fmt.Errorf("replace balances: %w", err)
	}

	for _, item := range items {
		if !item.Excluded && item.PartNumber != "" {
			itemsApplied++
		}
	}
	return len(balances), itemsApplied, nil
}

// ListBalances returns the current derived stock positions.
func (s *Service) ListBalances(ctx context.Context, tenantID uuid.UUID) ([]domain.PartBalance, error) {
	balances, err := s.repo.ListBalances(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return balances, nil
}

// RecordAdjustment appends a manual correction delta and signals that
// balances are stale. The stored balance only moves once the triggered
// rebuild lands.
func (s *Service) RecordAdjustment(ctx context.Context, tenantID uuid.UUID, in AdjustmentInput) (domain.Adjustment, error) {
	part := strings.TrimSpace(in.PartNumber)
	if part == "" {
		return domain.Adjustment{}, apperr.Validation(msgPartRequired)
	}
	if in.Delta.IsZero() {
		return domain.Adjustment{}, apperr.Validation(msgZeroAdjustment)
	}

	adj, err := s.repo.InsertAdjustment(ctx, tenantID, part, in.Delta, sanitize.Text(in.Reason))
	if err != nil {
		return domain.Adjustment{}, fmt.Errorf("insert adjustment: %w", err)
	}

	s.bus.Publish(ctx, events.LedgerChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		Reason:    ReasonManualAdjustment,
	})

	return adj, nil
}

// RegisterEventHandlers subscribes the rebuild triggers. A denied trigger
// is dropped after being recorded on its task; the next ledger change
// produces a fresh trigger.
func (s *Service) RegisterEventHandlers() {
	s.bus.Subscribe(events.IngestBatchCompleted{}.EventName(), events.HandlerFunc(s.onIngestBatchCompleted))
	s.bus.Subscribe(events.LedgerChanged{}.EventName(), events.HandlerFunc(s.onLedgerChanged))
}

func (s *Service) onIngestBatchCompleted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.IngestBatchCompleted)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if e.Items == 0 {
		return nil
	}
	return s.triggerRebuild(ctx, e.TenantID, ReasonIngestCompleted)
}

func (s *Service) onLedgerChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LedgerChanged)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	return s.triggerRebuild(ctx, e.TenantID, e.Reason)
}

func (s *Service) triggerRebuild(ctx context.Context, tenantID uuid.UUID, reason string) error {
	receipt, err := s.StartRebuild(ctx, tenantID, reason)
	if err != nil {
		return err
	}
	if receipt.LockDenied {
		s.logger.WithTenant(tenantID.String()).Warn("recalculation trigger denied, lock held",
			"task_id", receipt.TaskID.String(),
			"reason", reason,
		)
	}
	return nil
}

// Wait blocks until in-flight rebuilds finish. Called during shutdown so a
// SIGTERM cannot strand a RUNNING task.
func (s *Service) Wait() {
	s.wg.Wait()
}
