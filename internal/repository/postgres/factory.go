package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/stateset/stablepay/internal/repository"
)

type Repositories struct {
	Transactions    repo.Transactions
	Refunds         repo.Refunds
	Keys            repo.Keys
	Reconciliations repo.Reconciliations
	AuditLogs       repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions:    &transactionsRepo{pool},
		Refunds:         &refundsRepo{pool},
		Keys:            &keysRepo{pool},
		Reconciliations: &reconciliationsRepo{pool},
		AuditLogs:       &auditLogsRepo{pool},
	}
}
