// Package memory provides in-process repository implementations with the
// same semantics as the postgres ones, including the atomic
// reserve-or-fetch behaviour of the key store. Used by tests and by the
// server's dev mode when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stateset/stablepay/internal/models"
	"github.com/stateset/stablepay/internal/repository"
)

type Stores struct {
	Transactions    *TransactionStore
	Refunds         *RefundStore
	Keys            *KeyStore
	Reconciliations *ReconciliationStore
	AuditLogs       *AuditLogStore
}

func NewStores() *Stores {
	txns := &TransactionStore{byID: map[string]models.Transaction{}}
	return &Stores{
		Transactions:    txns,
		Refunds:         &RefundStore{byID: map[string]models.Refund{}, txns: txns},
		Keys:            &KeyStore{entries: map[string]repository.KeyState{}},
		Reconciliations: &ReconciliationStore{byID: map[string]models.ReconciliationRun{}},
		AuditLogs:       &AuditLogStore{},
	}
}

type TransactionStore struct {
	mu   sync.RWMutex
	byID map[string]models.Transaction
}

func (s *TransactionStore) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	s.byID[tx.ID] = tx
	return tx, nil
}

func (s *TransactionStore) GetByID(_ context.Context, id string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		return models.Transaction{}, repository.ErrNotFound
	}
	return tx, nil
}

func (s *TransactionStore) ListByCustomer(_ context.Context, customerID string, limit, offset int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range s.byID {
		if tx.CustomerID == customerID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *TransactionStore) ListByProviderAndWindow(_ context.Context, provider string, start, end time.Time) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range s.byID {
		if tx.ProviderOrChain != provider || tx.ProcessedAt == nil {
			continue
		}
		if tx.ProcessedAt.Before(start) || tx.ProcessedAt.After(end) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(*out[j].ProcessedAt) })
	return out, nil
}

func (s *TransactionStore) UpdateStatus(_ context.Context, id string, status models.TransactionStatus, chargeID, failureMessage *string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return models.Transaction{}, repository.ErrNotFound
	}
	now := time.Now().UTC()
	tx.Status = status
	tx.UpdatedAt = now
	if chargeID != nil {
		tx.ChargeID = chargeID
	}
	if failureMessage != nil {
		tx.FailureMessage = failureMessage
	}
	if (status == models.TxnSucceeded || status == models.TxnFailed) && tx.ProcessedAt == nil {
		tx.ProcessedAt = &now
	}
	s.byID[id] = tx
	return tx, nil
}

type RefundStore struct {
	mu   sync.RWMutex
	byID map[string]models.Refund
	txns *TransactionStore
}

// Create enforces the cumulative-refund bound under the store lock, matching
// the locked sum check the postgres store runs in a single statement.
func (s *RefundStore) Create(ctx context.Context, r models.Refund) (models.Refund, error) {
	tx, err := s.txns.GetByID(ctx, r.TransactionID)
	if err != nil {
		return models.Refund{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	total := r.Amount
	for _, prev := range s.byID {
		if prev.TransactionID == r.TransactionID {
			total = total.Add(prev.Amount)
		}
	}
	if total.GreaterThan(tx.Amount) {
		return models.Refund{}, repository.ErrExceedsBalance
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.byID[r.ID] = r
	return r, nil
}

func (s *RefundStore) GetByID(_ context.Context, id string) (models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return models.Refund{}, repository.ErrNotFound
	}
	return r, nil
}

func (s *RefundStore) ListByTransaction(_ context.Context, transactionID string) ([]models.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Refund
	for _, r := range s.byID {
		if r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// KeyStore is the in-memory uniquely-keyed reservation table. The single
// mutex makes Reserve a compare-and-swap, mirroring the unique-constraint
// insert the postgres store relies on.
type KeyStore struct {
	mu      sync.Mutex
	entries map[string]repository.KeyState
}

func keyOf(scope, key string) string { return scope + "\x00" + key }

func (s *KeyStore) Reserve(_ context.Context, scope, key string, ttl time.Duration) (repository.KeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(scope, key)
	if st, ok := s.entries[k]; ok {
		if st.Completed {
			return st, nil
		}
		if time.Since(st.ReservedAt) < ttl {
			return st, repository.ErrKeyReserved
		}
		// stale reservation from a crashed caller: take it over
	}
	st := repository.KeyState{Key: key, Scope: scope, ReservedAt: time.Now().UTC()}
	s.entries[k] = st
	return repository.KeyState{}, nil
}

func (s *KeyStore) Complete(_ context.Context, scope, key, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(scope, key)
	st, ok := s.entries[k]
	if !ok {
		return repository.ErrNotFound
	}
	st.Completed = true
	st.ResourceID = resourceID
	s.entries[k] = st
	return nil
}

func (s *KeyStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, keyOf(scope, key))
	return nil
}

type ReconciliationStore struct {
	mu   sync.RWMutex
	byID map[string]models.ReconciliationRun
}

func (s *ReconciliationStore) Create(_ context.Context, run models.ReconciliationRun) (models.ReconciliationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.byID[run.ID] = run
	return run, nil
}

func (s *ReconciliationStore) GetByID(_ context.Context, id string) (models.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.byID[id]
	if !ok {
		return models.ReconciliationRun{}, repository.ErrNotFound
	}
	return run, nil
}

func (s *ReconciliationStore) ListByProvider(_ context.Context, providerID string, limit, offset int) ([]models.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReconciliationRun
	for _, run := range s.byID {
		if run.ProviderID == providerID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

type AuditLogStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (s *AuditLogStore) Create(_ context.Context, l models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, l)
	return nil
}

// Entries returns a copy of the audit trail, oldest first.
func (s *AuditLogStore) Entries() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.entries))
	copy(out, s.entries)
	return out
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
