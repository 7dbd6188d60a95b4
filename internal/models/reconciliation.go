package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconCompleted      ReconciliationStatus = "completed"
	ReconRequiresReview ReconciliationStatus = "requires_review"
)

// ExternalTransaction is one line of a provider statement handed to a
// reconciliation run. Amount and date come straight from the statement and
// are never trusted over the ledger; mismatches surface as discrepancies.
type ExternalTransaction struct {
	ExternalID string          `json:"external_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Date       time.Time       `json:"date"`
	Status     string          `json:"status"`
}

type DiscrepancyKind string

const (
	// DiscrepancyMissingExternal: internal succeeded transaction with no
	// counterpart on the statement.
	DiscrepancyMissingExternal DiscrepancyKind = "missing_external"
	// DiscrepancyMissingInternal: statement line marked succeeded with no
	// counterpart in the ledger.
	DiscrepancyMissingInternal DiscrepancyKind = "missing_internal"
)

type Discrepancy struct {
	Kind          DiscrepancyKind `json:"kind"`
	TransactionID string          `json:"transaction_id,omitempty"`
	ExternalID    string          `json:"external_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
}

// Match pairs one ledger transaction with one statement line. Each side
// appears in at most one match per run.
type Match struct {
	TransactionID string          `json:"transaction_id"`
	ExternalID    string          `json:"external_id"`
	Exact         bool            `json:"exact"`
	TimeDelta     time.Duration   `json:"-"`
	AmountDelta   decimal.Decimal `json:"amount_delta"`
}

// ReconciliationRun is the immutable result of matching a period of ledger
// entries against a provider statement. It owns no live resources and is
// never updated after creation.
type ReconciliationRun struct {
	ID                   string               `json:"id"`
	ReconciliationNumber string               `json:"reconciliation_number"`
	ProviderID           string               `json:"provider_id"`
	PeriodStart          time.Time            `json:"period_start"`
	PeriodEnd            time.Time            `json:"period_end"`
	Status               ReconciliationStatus `json:"status"`

	TotalTransactions     int             `json:"total_transactions"`
	MatchedTransactions   int             `json:"matched_transactions"`
	UnmatchedTransactions int             `json:"unmatched_transactions"`
	DiscrepancyCount      int             `json:"discrepancy_count"`
	MatchRate             decimal.Decimal `json:"match_rate"`

	Matches           []Match       `json:"matches,omitempty"`
	UnmatchedInternal []string      `json:"unmatched_internal,omitempty"`
	UnmatchedExternal []string      `json:"unmatched_external,omitempty"`
	Discrepancies     []Discrepancy `json:"discrepancies,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
