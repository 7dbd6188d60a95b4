package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/fees"
	"github.com/stateset/stablepay/internal/idempotency"
	"github.com/stateset/stablepay/internal/metrics"
	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/provider"
	"github.com/stateset/stablepay/internal/repository"
	"github.com/stateset/stablepay/internal/worker"
)

// PaymentService owns transaction creation and the status state machine.
// Creation is guarded by the idempotency reservation; capture with the
// settlement provider runs asynchronously on the worker pool.
type PaymentService struct {
	trx    repository.Transactions
	audit  repository.AuditLogs
	guard  *idempotency.Guard
	router *fees.Router
	prov   provider.Client
	wp     *worker.Pool
	log    *slog.Logger
}

func NewPaymentService(trx repository.Transactions, audit repository.AuditLogs, guard *idempotency.Guard, router *fees.Router, prov provider.Client, wp *worker.Pool, log *slog.Logger) *PaymentService {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentService{trx: trx, audit: audit, guard: guard, router: router, prov: prov, wp: wp, log: log}
}

type CreatePaymentInput struct {
	CustomerID     string
	OrderID        *string
	Amount         decimal.Decimal
	Currency       string
	Rail           models.Rail
	Chain          fees.Chain
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentResult carries the ledger entry plus whether the response is a
// replay of an earlier request with the same key.
type PaymentResult struct {
	Transaction models.Transaction
	Replayed    bool
}

// Create records a payment. With an idempotency key, the second submission
// of the same request returns the original transaction and performs no
// second side effect.
func (s *PaymentService) Create(ctx context.Context, in CreatePaymentInput) (PaymentResult, error) {
	res, err := s.guard.Reserve(ctx, idempotency.ScopePayment, in.IdempotencyKey)
	if err != nil {
		return PaymentResult{}, err
	}
	if res.Replayed {
		metrics.IdempotentReplays.Inc()
		tx, err := s.trx.GetByID(ctx, res.ResourceID)
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Transaction: tx, Replayed: true}, nil
	}

	quote, err := s.router.Route(in.Amount, in.Currency, fees.Hint{Rail: in.Rail, Chain: in.Chain})
	if err != nil {
		s.guard.Release(ctx, idempotency.ScopePayment, in.IdempotencyKey)
		return PaymentResult{}, err
	}

	now := time.Now().UTC()
	tx := models.Transaction{
		ID:                    uuid.NewString(),
		TransactionNumber:     models.ReferenceNumber("PAY", now),
		CustomerID:            in.CustomerID,
		OrderID:               in.OrderID,
		Amount:                in.Amount,
		Currency:              strings.ToUpper(in.Currency),
		Rail:                  quote.Rail,
		ProviderOrChain:       quote.Provider,
		ProviderFee:           quote.ProviderFee,
		PlatformFee:           quote.PlatformFee,
		Fees:                  quote.Fee,
		NetAmount:             quote.NetAmount,
		Status:                models.TxnPending,
		RequiredConfirmations: quote.RequiredConfirmations,
		Metadata:              in.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	if quote.SettlementDays > 0 {
		settle := now.AddDate(0, 0, quote.SettlementDays)
		tx.EstimatedSettlementDate = &settle
	}
	if err := tx.CheckInvariants(); err != nil {
		s.guard.Release(ctx, idempotency.ScopePayment, in.IdempotencyKey)
		return PaymentResult{}, err
	}

	tx, err = s.trx.Create(ctx, tx)
	if err != nil {
		s.guard.Release(ctx, idempotency.ScopePayment, in.IdempotencyKey)
		return PaymentResult{}, fmt.Errorf("create transaction: %w", err)
	}
	if err := s.guard.Complete(ctx, idempotency.ScopePayment, in.IdempotencyKey, tx.ID); err != nil {
		s.log.Error("finalize idempotency key", "key", in.IdempotencyKey, "err", err)
	}

	s.auditEntry(ctx, tx.ID, "created", map[string]any{
		"rail": string(tx.Rail), "provider": tx.ProviderOrChain, "amount": tx.Amount.String(),
	})
	metrics.PaymentsTotal.WithLabelValues(string(tx.Rail), string(tx.Status)).Inc()
	s.log.Info("payment created",
		"transaction_id", tx.ID,
		"customer_id", tx.CustomerID,
		"rail", tx.Rail,
		"provider", tx.ProviderOrChain,
		"amount", tx.Amount,
		"currency", tx.Currency,
	)

	s.wp.Submit(func() { s.capture(tx) })
	return PaymentResult{Transaction: tx}, nil
}

// capture settles the pending transaction with the provider and applies the
// resulting status transition.
func (s *PaymentService) capture(tx models.Transaction) {
	ctx := context.Background()
	ref, err := s.prov.Capture(ctx, tx)
	if err != nil {
		msg := err.Error()
		if _, terr := s.transition(ctx, tx.ID, models.TxnFailed, nil, &msg); terr != nil {
			s.log.Error("record capture failure", "transaction_id", tx.ID, "err", terr)
		}
		s.log.Warn("capture failed", "transaction_id", tx.ID, "err", err)
		return
	}
	if _, err := s.transition(ctx, tx.ID, models.TxnSucceeded, &ref, nil); err != nil {
		s.log.Error("record capture success", "transaction_id", tx.ID, "err", err)
	}
}

// Transition applies an explicit status change, e.g. a correction recorded
// after reconciliation review. Illegal transitions always surface as errors;
// a financial state change is never dropped silently.
func (s *PaymentService) Transition(ctx context.Context, id string, status models.TransactionStatus) (models.Transaction, error) {
	return s.transition(ctx, id, status, nil, nil)
}

func (s *PaymentService) transition(ctx context.Context, id string, status models.TransactionStatus, chargeID, failureMessage *string) (models.Transaction, error) {
	tx, err := s.trx.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if !models.CanTransition(tx.Status, status) {
		return models.Transaction{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStateTransition, tx.Status, status)
	}
	updated, err := s.trx.UpdateStatus(ctx, id, status, chargeID, failureMessage)
	if err != nil {
		return models.Transaction{}, err
	}
	s.auditEntry(ctx, id, "status_change", map[string]any{
		"from": string(tx.Status), "to": string(status),
	})
	metrics.PaymentsTotal.WithLabelValues(string(updated.Rail), string(status)).Inc()
	return updated, nil
}

func (s *PaymentService) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return s.trx.GetByID(ctx, id)
}

func (s *PaymentService) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]models.Transaction, error) {
	return s.trx.ListByCustomer(ctx, customerID, limit, offset)
}

func (s *PaymentService) auditEntry(ctx context.Context, entityID, action string, details map[string]any) {
	id := entityID
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "transaction",
		EntityID:   &id,
		Action:     action,
		Details:    details,
	}); err != nil {
		s.log.Error("audit write", "entity_id", entityID, "action", action, "err", err)
	}
}
