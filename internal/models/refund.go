package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Refund records money returned against a ledger transaction. The sum of
// refund amounts for a transaction never exceeds the transaction amount.
type Refund struct {
	ID             string  `json:"id"`
	RefundNumber   string  `json:"refund_number"`
	TransactionID  string  `json:"transaction_id"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// RefundedFees is the share of the original fees attributed to this
	// refund, proportional to amount / transaction amount.
	RefundedFees decimal.Decimal `json:"refunded_fees"`
	NetRefund    decimal.Decimal `json:"net_refund"`

	Reason string `json:"reason,omitempty"`

	// ProviderRef is the external reference returned by the settlement
	// collaborator (re_...).
	ProviderRef *string `json:"provider_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
