package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/idempotency"
	"github.com/stateset/stablepay/internal/metrics"
	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/provider"
	"github.com/stateset/stablepay/internal/repository"
)

var (
	// ErrAmountExceedsAvailable rejects a refund that would push cumulative
	// refunds past the original amount. The ledger is left untouched.
	ErrAmountExceedsAvailable = errors.New("refund amount exceeds available balance")
	// ErrInvalidRefundState rejects refunds against transactions that are
	// not succeeded or partially refunded.
	ErrInvalidRefundState = errors.New("transaction state does not allow refunds")
	// ErrInvalidRefundAmount rejects zero or negative refund amounts.
	ErrInvalidRefundAmount = errors.New("refund amount must be positive")
)

// RefundService validates and records refunds against ledger transactions,
// enforcing the cumulative-refund bound and driving the owning transaction's
// status.
type RefundService struct {
	trx     repository.Transactions
	refunds repository.Refunds
	audit   repository.AuditLogs
	guard   *idempotency.Guard
	prov    provider.Client
	log     *slog.Logger
}

func NewRefundService(trx repository.Transactions, refunds repository.Refunds, audit repository.AuditLogs, guard *idempotency.Guard, prov provider.Client, log *slog.Logger) *RefundService {
	if log == nil {
		log = slog.Default()
	}
	return &RefundService{trx: trx, refunds: refunds, audit: audit, guard: guard, prov: prov, log: log}
}

type CreateRefundInput struct {
	TransactionID  string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	Refund   models.Refund
	Replayed bool
}

// Create records a refund. Duplicate requests bearing the same key return
// the original refund record instead of issuing a second one.
func (s *RefundService) Create(ctx context.Context, in CreateRefundInput) (RefundResult, error) {
	res, err := s.guard.Reserve(ctx, idempotency.ScopeRefund, in.IdempotencyKey)
	if err != nil {
		return RefundResult{}, err
	}
	if res.Replayed {
		metrics.IdempotentReplays.Inc()
		r, err := s.refunds.GetByID(ctx, res.ResourceID)
		if err != nil {
			return RefundResult{}, err
		}
		return RefundResult{Refund: r, Replayed: true}, nil
	}

	r, err := s.create(ctx, in)
	if err != nil {
		s.guard.Release(ctx, idempotency.ScopeRefund, in.IdempotencyKey)
		return RefundResult{}, err
	}
	if err := s.guard.Complete(ctx, idempotency.ScopeRefund, in.IdempotencyKey, r.ID); err != nil {
		s.log.Error("finalize idempotency key", "key", in.IdempotencyKey, "err", err)
	}
	return RefundResult{Refund: r}, nil
}

func (s *RefundService) create(ctx context.Context, in CreateRefundInput) (models.Refund, error) {
	if in.Amount.Sign() <= 0 {
		return models.Refund{}, fmt.Errorf("%w: got %s", ErrInvalidRefundAmount, in.Amount)
	}
	tx, err := s.trx.GetByID(ctx, in.TransactionID)
	if err != nil {
		return models.Refund{}, err
	}
	if !tx.Refundable() {
		return models.Refund{}, fmt.Errorf("%w: status %s", ErrInvalidRefundState, tx.Status)
	}

	refunded, err := s.refundedTotal(ctx, tx.ID)
	if err != nil {
		return models.Refund{}, err
	}
	if refunded.Add(in.Amount).GreaterThan(tx.Amount) {
		return models.Refund{}, fmt.Errorf("%w: %s already refunded of %s", ErrAmountExceedsAvailable, refunded, tx.Amount)
	}

	// Fees come back proportionally to the refunded share of the original
	// amount.
	refundedFees := tx.Fees.Mul(in.Amount).DivRound(tx.Amount, 2)
	now := time.Now().UTC()
	r := models.Refund{
		ID:            uuid.NewString(),
		RefundNumber:  models.ReferenceNumber("REF", now),
		TransactionID: tx.ID,
		Amount:        in.Amount,
		Currency:      tx.Currency,
		RefundedFees:  refundedFees,
		NetRefund:     in.Amount.Sub(refundedFees),
		Reason:        in.Reason,
		CreatedAt:     now,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		r.IdempotencyKey = &key
	}

	ref, err := s.prov.Refund(ctx, tx, r)
	if err != nil {
		metrics.RefundsTotal.WithLabelValues("failed").Inc()
		return models.Refund{}, fmt.Errorf("provider refund: %w", err)
	}
	r.ProviderRef = &ref

	r, err = s.refunds.Create(ctx, r)
	if errors.Is(err, repository.ErrExceedsBalance) {
		// A concurrent refund won the race past the optimistic check above.
		return models.Refund{}, fmt.Errorf("%w: balance consumed concurrently", ErrAmountExceedsAvailable)
	}
	if err != nil {
		return models.Refund{}, fmt.Errorf("create refund: %w", err)
	}

	next := models.TxnPartiallyRefunded
	if refunded.Add(in.Amount).Equal(tx.Amount) {
		next = models.TxnFullyRefunded
	}
	if !models.CanTransition(tx.Status, next) {
		return models.Refund{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStateTransition, tx.Status, next)
	}
	if _, err := s.trx.UpdateStatus(ctx, tx.ID, next, nil, nil); err != nil {
		return models.Refund{}, fmt.Errorf("transition transaction: %w", err)
	}

	entity := r.ID
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "refund",
		EntityID:   &entity,
		Action:     "created",
		Details: map[string]any{
			"transaction_id": tx.ID, "amount": r.Amount.String(), "reason": r.Reason,
		},
	}); err != nil {
		s.log.Error("audit write", "refund_id", r.ID, "err", err)
	}
	metrics.RefundsTotal.WithLabelValues("succeeded").Inc()
	s.log.Info("refund recorded",
		"refund_id", r.ID,
		"transaction_id", tx.ID,
		"amount", r.Amount,
		"new_status", next,
	)
	return r, nil
}

func (s *RefundService) refundedTotal(ctx context.Context, transactionID string) (decimal.Decimal, error) {
	existing, err := s.refunds.ListByTransaction(ctx, transactionID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range existing {
		total = total.Add(r.Amount)
	}
	return total, nil
}
