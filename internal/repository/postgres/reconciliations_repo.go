package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/models"
	repo "github.com/stateset/stablepay/internal/repository"
)

type reconciliationsRepo struct{ pool *pgxpool.Pool }

// runDetail is the jsonb payload holding the per-record outcome of a run.
// Runs are immutable, so a single document is simpler than detail tables.
type runDetail struct {
	Matches           []models.Match       `json:"matches,omitempty"`
	UnmatchedInternal []string             `json:"unmatched_internal,omitempty"`
	UnmatchedExternal []string             `json:"unmatched_external,omitempty"`
	Discrepancies     []models.Discrepancy `json:"discrepancies,omitempty"`
}

const reconciliationColumns = `
  id, reconciliation_number, provider_id, period_start, period_end, status,
  total_transactions, matched_transactions, unmatched_transactions,
  discrepancy_count, match_rate::text, detail, created_at`

func (r *reconciliationsRepo) Create(ctx context.Context, run models.ReconciliationRun) (models.ReconciliationRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	detail, err := json.Marshal(runDetail{
		Matches:           run.Matches,
		UnmatchedInternal: run.UnmatchedInternal,
		UnmatchedExternal: run.UnmatchedExternal,
		Discrepancies:     run.Discrepancies,
	})
	if err != nil {
		return models.ReconciliationRun{}, err
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO reconciliation_runs (
  id, reconciliation_number, provider_id, period_start, period_end, status,
  total_transactions, matched_transactions, unmatched_transactions,
  discrepancy_count, match_rate, detail
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING `+reconciliationColumns,
		run.ID, run.ReconciliationNumber, run.ProviderID, run.PeriodStart, run.PeriodEnd, run.Status,
		run.TotalTransactions, run.MatchedTransactions, run.UnmatchedTransactions,
		run.DiscrepancyCount, run.MatchRate, detail,
	)
	return scanReconciliation(row)
}

func (r *reconciliationsRepo) GetByID(ctx context.Context, id string) (models.ReconciliationRun, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_runs WHERE id=$1`, id)
	run, err := scanReconciliation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReconciliationRun{}, repo.ErrNotFound
	}
	return run, err
}

func (r *reconciliationsRepo) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]models.ReconciliationRun, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+reconciliationColumns+`
		   FROM reconciliation_runs
		  WHERE provider_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`,
		providerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReconciliationRun
	for rows.Next() {
		run, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanReconciliation(row rowScanner) (models.ReconciliationRun, error) {
	var (
		run       models.ReconciliationRun
		matchRate string
		detail    []byte
	)
	err := row.Scan(
		&run.ID, &run.ReconciliationNumber, &run.ProviderID, &run.PeriodStart, &run.PeriodEnd, &run.Status,
		&run.TotalTransactions, &run.MatchedTransactions, &run.UnmatchedTransactions,
		&run.DiscrepancyCount, &matchRate, &detail, &run.CreatedAt,
	)
	if err != nil {
		return models.ReconciliationRun{}, err
	}
	if run.MatchRate, err = decimal.NewFromString(matchRate); err != nil {
		return models.ReconciliationRun{}, err
	}
	var d runDetail
	if err := json.Unmarshal(detail, &d); err != nil {
		return models.ReconciliationRun{}, err
	}
	run.Matches = d.Matches
	run.UnmatchedInternal = d.UnmatchedInternal
	run.UnmatchedExternal = d.UnmatchedExternal
	run.Discrepancies = d.Discrepancies
	return run, nil
}
