package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Rail is the settlement mechanism for a payment. Supported rails form a
// closed set; new rails are added here, not by string branching at call sites.
type Rail string

const (
	RailCard       Rail = "card"
	RailBank       Rail = "bank"
	RailStablecoin Rail = "stablecoin"
)

func (r Rail) Valid() bool {
	switch r {
	case RailCard, RailBank, RailStablecoin:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxnPending           TransactionStatus = "pending"
	TxnSucceeded         TransactionStatus = "succeeded"
	TxnFailed            TransactionStatus = "failed"
	TxnPartiallyRefunded TransactionStatus = "partially_refunded"
	TxnFullyRefunded     TransactionStatus = "fully_refunded"
)

// ErrInvalidStateTransition is returned when a status change is attempted
// from a state that does not allow it. Transitions are one-directional:
// a failed or fully refunded transaction is never resurrected.
var ErrInvalidStateTransition = errors.New("invalid state transition")

var statusTransitions = map[TransactionStatus][]TransactionStatus{
	TxnPending:           {TxnSucceeded, TxnFailed},
	TxnSucceeded:         {TxnPartiallyRefunded, TxnFullyRefunded},
	TxnPartiallyRefunded: {TxnPartiallyRefunded, TxnFullyRefunded},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is an entry in the payment ledger. Entries are append-only:
// only status, failure fields and UpdatedAt change after creation, and
// corrections are recorded as audit entries referencing the original.
type Transaction struct {
	ID                string  `json:"id"`
	TransactionNumber string  `json:"transaction_number"`
	IdempotencyKey    *string `json:"idempotency_key,omitempty"`
	CustomerID        string  `json:"customer_id"`
	OrderID           *string `json:"order_id,omitempty"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	Rail            Rail   `json:"rail"`
	ProviderOrChain string `json:"provider_or_chain"`

	ProviderFee decimal.Decimal `json:"provider_fee"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Fees        decimal.Decimal `json:"fees"`
	NetAmount   decimal.Decimal `json:"net_amount"`

	Status TransactionStatus `json:"status"`

	// ChargeID is the provider's reference once capture succeeds. It is the
	// exact-match handle during reconciliation.
	ChargeID       *string `json:"charge_id,omitempty"`
	FailureMessage *string `json:"failure_message,omitempty"`

	RequiredConfirmations   int        `json:"required_confirmations,omitempty"`
	EstimatedSettlementDate *time.Time `json:"estimated_settlement_date,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Refundable reports whether refunds may be recorded against the transaction.
func (t *Transaction) Refundable() bool {
	return t.Status == TxnSucceeded || t.Status == TxnPartiallyRefunded
}

// CheckInvariants verifies the monetary identity net = amount - fees and the
// sign constraints around it. The ledger refuses entries that violate it.
func (t *Transaction) CheckInvariants() error {
	if t.Amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	if t.Fees.Sign() < 0 {
		return errors.New("fees must not be negative")
	}
	if !t.NetAmount.Equal(t.Amount.Sub(t.Fees)) {
		return errors.New("net amount must equal amount minus fees")
	}
	if t.NetAmount.Sign() < 0 {
		return errors.New("net amount must not be negative")
	}
	return nil
}
