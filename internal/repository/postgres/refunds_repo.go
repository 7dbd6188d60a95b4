package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/models"
	repo "github.com/stateset/stablepay/internal/repository"
)

type refundsRepo struct{ pool *pgxpool.Pool }

const refundColumns = `
  id, refund_number, transaction_id, idempotency_key,
  amount::text, currency, refunded_fees::text, net_refund::text,
  reason, provider_ref, created_at`

// Create inserts the refund only if, with the parent row locked, existing
// refunds plus the new amount still fit inside the original transaction
// amount. The FOR UPDATE lock serializes concurrent inserts for the same
// transaction so two refunds cannot both read a stale total.
func (r *refundsRepo) Create(ctx context.Context, rf models.Refund) (models.Refund, error) {
	if rf.ID == "" {
		rf.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
WITH parent AS (
  SELECT id, amount FROM transactions WHERE id = $3 FOR UPDATE
)
INSERT INTO refunds (
  id, refund_number, transaction_id, idempotency_key,
  amount, currency, refunded_fees, net_refund, reason, provider_ref
)
SELECT $1, $2, parent.id, $4, $5, $6, $7, $8, $9, $10
  FROM parent
 WHERE (SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE transaction_id = parent.id) + $5 <= parent.amount
RETURNING `+refundColumns,
		rf.ID, rf.RefundNumber, rf.TransactionID, rf.IdempotencyKey,
		rf.Amount, rf.Currency, rf.RefundedFees, rf.NetRefund, rf.Reason, rf.ProviderRef,
	)
	out, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Refund{}, repo.ErrExceedsBalance
	}
	return out, err
}

func (r *refundsRepo) GetByID(ctx context.Context, id string) (models.Refund, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1`, id)
	rf, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Refund{}, repo.ErrNotFound
	}
	return rf, err
}

func (r *refundsRepo) ListByTransaction(ctx context.Context, transactionID string) ([]models.Refund, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+refundColumns+`
		   FROM refunds
		  WHERE transaction_id=$1
		  ORDER BY created_at ASC`,
		transactionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

func scanRefund(row rowScanner) (models.Refund, error) {
	var (
		rf                        models.Refund
		amount, refundedFees, net string
	)
	err := row.Scan(
		&rf.ID, &rf.RefundNumber, &rf.TransactionID, &rf.IdempotencyKey,
		&amount, &rf.Currency, &refundedFees, &net,
		&rf.Reason, &rf.ProviderRef, &rf.CreatedAt,
	)
	if err != nil {
		return models.Refund{}, err
	}
	if rf.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Refund{}, err
	}
	if rf.RefundedFees, err = decimal.NewFromString(refundedFees); err != nil {
		return models.Refund{}, err
	}
	if rf.NetRefund, err = decimal.NewFromString(net); err != nil {
		return models.Refund{}, err
	}
	return rf, nil
}
