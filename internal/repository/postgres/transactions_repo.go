package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/models"
	repo "github.com/stateset/stablepay/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const transactionColumns = `
  id, transaction_number, idempotency_key, customer_id, order_id,
  amount::text, currency, rail, provider_or_chain,
  provider_fee::text, platform_fee::text, fees::text, net_amount::text,
  status, charge_id, failure_message, required_confirmations,
  estimated_settlement_date, metadata, created_at, updated_at, processed_at`

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	const q = `
INSERT INTO transactions (
  id, transaction_number, idempotency_key, customer_id, order_id,
  amount, currency, rail, provider_or_chain,
  provider_fee, platform_fee, fees, net_amount,
  status, required_confirmations, estimated_settlement_date, metadata
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING ` + transactionColumns
	row := r.pool.QueryRow(ctx, q,
		tx.ID, tx.TransactionNumber, tx.IdempotencyKey, tx.CustomerID, tx.OrderID,
		tx.Amount, tx.Currency, tx.Rail, tx.ProviderOrChain,
		tx.ProviderFee, tx.PlatformFee, tx.Fees, tx.NetAmount,
		tx.Status, tx.RequiredConfirmations, tx.EstimatedSettlementDate, tx.Metadata,
	)
	return scanTransaction(row)
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		   FROM transactions
		  WHERE customer_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		customerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *transactionsRepo) ListByProviderAndWindow(ctx context.Context, provider string, start, end time.Time) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		   FROM transactions
		  WHERE provider_or_chain=$1
		    AND processed_at >= $2 AND processed_at <= $3
		  ORDER BY processed_at ASC`,
		provider, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *transactionsRepo) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, chargeID, failureMessage *string) (models.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE transactions
		    SET status=$2,
		        charge_id=COALESCE($3, charge_id),
		        failure_message=COALESCE($4, failure_message),
		        processed_at=CASE WHEN $2 IN ('succeeded','failed') AND processed_at IS NULL THEN now() ELSE processed_at END,
		        updated_at=now()
		  WHERE id=$1
		  RETURNING `+transactionColumns,
		id, status, chargeID, failureMessage,
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx                                         models.Transaction
		amount, providerFee, platformFee, fee, net string
	)
	err := row.Scan(
		&tx.ID, &tx.TransactionNumber, &tx.IdempotencyKey, &tx.CustomerID, &tx.OrderID,
		&amount, &tx.Currency, &tx.Rail, &tx.ProviderOrChain,
		&providerFee, &platformFee, &fee, &net,
		&tx.Status, &tx.ChargeID, &tx.FailureMessage, &tx.RequiredConfirmations,
		&tx.EstimatedSettlementDate, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt, &tx.ProcessedAt,
	)
	if err != nil {
		return models.Transaction{}, err
	}
	for dst, src := range map[*decimal.Decimal]string{
		&tx.Amount: amount, &tx.ProviderFee: providerFee, &tx.PlatformFee: platformFee,
		&tx.Fees: fee, &tx.NetAmount: net,
	} {
		if *dst, err = decimal.NewFromString(src); err != nil {
			return models.Transaction{}, err
		}
	}
	return tx, nil
}

func scanTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
