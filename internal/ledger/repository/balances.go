package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stockledger_backend/internal/ledger/domain"
)

// ReplaceBalances swaps the tenant's whole balance set in one transaction.
// Balances are derived data: the delete-and-insert keeps the table an exact
// function of the ledger, and readers keep seeing the previous snapshot
// until the commit lands.
func (r *Repo) ReplaceBalances(ctx context.Context, tenantID uuid.UUID, balances []domain.PartBalance) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin balance replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM part_balances WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("clear part balances: %w", err)
	}

	query := `
		INSERT INTO part_balances (
			tenant_id, part_number, display_name, on_hand, total_in, total_out,
			manual_adjustment, reorder_point, last_in_rate, last_in_at,
			last_out_rate, last_out_at, unit_value, stock_value, recalculated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	for _, b := range balances {
		_, err := tx.Exec(ctx, query,
			tenantID, b.PartNumber, b.DisplayName, b.OnHand, b.TotalIn, b.TotalOut,
			b.ManualAdjustment, b.ReorderPoint, b.LastInRate, b.LastInAt,
			b.LastOutRate, b.LastOutAt, b.UnitValue, b.StockValue, b.RecalculatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert balance for part %s: %w", b.PartNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit balance replace: %w", err)
	}

	return nil
}

// ListBalances returns the tenant's current balance snapshot ordered by part number.
func (r *Repo) ListBalances(ctx context.Context, tenantID uuid.UUID) ([]domain.PartBalance, error) {
	query := `
		SELECT part_number, display_name, on_hand, total_in, total_out,
		       manual_adjustment, reorder_point, last_in_rate, last_in_at,
		       last_out_rate, last_out_at, unit_value, stock_value, recalculated_at
		FROM part_balances
		WHERE tenant_id = $1
		ORDER BY part_number ASC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list part balances: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// InsertAdjustment appends a manual stock correction delta.
func (r *Repo) InsertAdjustment(ctx context.Context, tenantID uuid.UUID, partNumber string, delta decimal.Decimal, reason string) (domain.Adjustment, error) {
	query := `
		INSERT INTO balance_adjustments (id, tenant_id, part_number, delta, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING part_number, delta, reason, created_at`

	var adj domain.Adjustment
	err := r.pool.QueryRow(ctx, query, uuid.New(), tenantID, partNumber, delta, reason).Scan(
		&adj.PartNumber, &adj.Delta, &adj.Reason, &adj.CreatedAt,
	)
	if err != nil {
		return domain.Adjustment{}, fmt.Errorf("insert balance adjustment: %w", err)
	}

	return adj, nil
}

// ListAdjustments returns every manual delta for the tenant in insertion order.
func (r *Repo) ListAdjustments(ctx context.Context, tenantID uuid.UUID) ([]domain.Adjustment, error) {
	query := `
		SELECT part_number, delta, reason, created_at
		FROM balance_adjustments
		WHERE tenant_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list balance adjustments: %w", err)
	}
	defer rows.Close()

	adjustments := make([]domain.Adjustment, 0)
	for rows.Next() {
		var adj domain.Adjustment
		if err := rows.Scan(&adj.PartNumber, &adj.Delta, &adj.Reason, &adj.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan balance adjustment: %w", err)
		}
		adjustments = append(adjustments, adj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance adjustments: %w", err)
	}

	return adjustments, nil
}

func scanBalances(rows pgx.Rows) ([]domain.PartBalance, error) {
	balances := make([]domain.PartBalance, 0)

	for rows.Next() {
		var b domain.PartBalance
		err := rows.Scan(
			&b.PartNumber, &b.DisplayName, &b.OnHand, &b.TotalIn, &b.TotalOut,
			&b.ManualAdjustment, &b.ReorderPoint, &b.LastInRate, &b.LastInAt,
			&b.LastOutRate, &b.LastOutAt, &b.UnitValue, &b.StockValue, &b.RecalculatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan part balance: %w", err)
		}
		balances = append(balances, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate part balances: %w", err)
	}

	return balances, nil
}
