// Package provider abstracts the settlement collaborators (card/bank
// processors, chain RPC relays). The ledger core never talks to a rail
// directly; it records what a Client reports back.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stateset/stablepay/internal/models"
)

// Client submits captures and refunds to the settlement rail behind a
// transaction's provider. Implementations must be safe for concurrent use.
type Client interface {
	// Capture settles a pending transaction and returns the provider's
	// charge reference.
	Capture(ctx context.Context, tx models.Transaction) (string, error)
	// Refund returns money for a recorded refund and yields the provider's
	// refund reference.
	Refund(ctx context.Context, tx models.Transaction, r models.Refund) (string, error)
}

// Sandbox is the in-process stand-in used in dev and tests. It fabricates
// provider references; CaptureErr, when set, makes every capture fail.
type Sandbox struct {
	CaptureErr error
}

func (s *Sandbox) Capture(_ context.Context, _ models.Transaction) (string, error) {
	if s.CaptureErr != nil {
		return "", s.CaptureErr
	}
	return "ch_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

func (s *Sandbox) Refund(_ context.Context, tx models.Transaction, _ models.Refund) (string, error) {
	if tx.ChargeID == nil {
		return "", fmt.Errorf("transaction %s has no charge to refund", tx.ID)
	}
	return "re_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}
