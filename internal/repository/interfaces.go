package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stateset/stablepay/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrKeyReserved is returned by Keys.Reserve when the key is currently held
// by an in-flight request.
var ErrKeyReserved = errors.New("idempotency key reserved")

// ErrExceedsBalance is returned by Refunds.Create when the new refund plus
// the sum of existing refunds would exceed the parent transaction amount.
// The store enforces this atomically so concurrent refunds cannot overshoot.
var ErrExceedsBalance = errors.New("refund exceeds refundable balance")

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]models.Transaction, error)
	// ListByProviderAndWindow returns the reconciliation snapshot: entries for
	// one provider whose processed time falls inside [start, end].
	ListByProviderAndWindow(ctx context.Context, provider string, start, end time.Time) ([]models.Transaction, error)
	// UpdateStatus applies a status change previously validated against the
	// state machine, together with the processing outcome fields.
	UpdateStatus(ctx context.Context, id string, status models.TransactionStatus, chargeID, failureMessage *string) (models.Transaction, error)
}

type Refunds interface {
	Create(ctx context.Context, r models.Refund) (models.Refund, error)
	GetByID(ctx context.Context, id string) (models.Refund, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]models.Refund, error)
}

// KeyState describes one idempotency key reservation.
type KeyState struct {
	Key        string
	Scope      string
	ResourceID string
	Completed  bool
	ReservedAt time.Time
}

// Keys is the uniquely-constrained idempotency store. Reserve is the single
// atomic reserve-or-fetch primitive the whole concurrency story rests on.
type Keys interface {
	// Reserve atomically claims (scope, key). Outcomes:
	//   (KeyState{}, nil): claimed by this caller; proceed.
	//   (state, ErrKeyReserved): pending reservation younger than ttl is
	//       held by another in-flight caller.
	//   (state, nil) with state.Completed: key already resolved and
	//       state.ResourceID is the original resource.
	// A pending reservation older than ttl is taken over by the caller.
	Reserve(ctx context.Context, scope, key string, ttl time.Duration) (KeyState, error)
	// Complete finalizes the mapping from a claimed key to the created
	// resource.
	Complete(ctx context.Context, scope, key, resourceID string) error
	// Release drops a claimed-but-unfinished reservation so a retry can
	// proceed immediately.
	Release(ctx context.Context, scope, key string) error
}

type Reconciliations interface {
	Create(ctx context.Context, run models.ReconciliationRun) (models.ReconciliationRun, error)
	GetByID(ctx context.Context, id string) (models.ReconciliationRun, error)
	ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]models.ReconciliationRun, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
