// Package idempotency makes retried financial requests safe: a client key is
// atomically reserved before any side effect, so a duplicate request either
// replays the original result or is rejected while the first is in flight.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/stateset/stablepay/internal/repository"
)

// ErrConcurrentRequestInFlight is returned when the same key is currently
// reserved by another caller. Clients should retry after a short backoff.
var ErrConcurrentRequestInFlight = errors.New("concurrent request with same idempotency key in flight")

// Scopes keep payment and refund keyspaces apart; the same client key may be
// used once per operation kind.
const (
	ScopePayment = "payment"
	ScopeRefund  = "refund"
)

// Reservation is the outcome of Reserve. When Replayed is set the side effect
// already happened and ResourceID names the original resource; otherwise the
// caller holds the reservation and must call Complete or Release.
type Reservation struct {
	Replayed   bool
	ResourceID string
}

// Guard wraps the uniquely-constrained key store. TTL bounds how long a
// pending reservation blocks retries: a caller that crashed mid-request
// releases the key implicitly once the TTL passes.
type Guard struct {
	keys repository.Keys
	ttl  time.Duration
}

func NewGuard(keys repository.Keys, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Guard{keys: keys, ttl: ttl}
}

// Reserve claims (scope, key). An empty key means the request carries no
// idempotency semantics and is always treated as unique.
func (g *Guard) Reserve(ctx context.Context, scope, key string) (Reservation, error) {
	if key == "" {
		return Reservation{}, nil
	}
	st, err := g.keys.Reserve(ctx, scope, key, g.ttl)
	if err != nil {
		if errors.Is(err, repository.ErrKeyReserved) {
			return Reservation{}, ErrConcurrentRequestInFlight
		}
		return Reservation{}, err
	}
	if st.Completed {
		return Reservation{Replayed: true, ResourceID: st.ResourceID}, nil
	}
	return Reservation{}, nil
}

// Complete finalizes the key to the created resource.
func (g *Guard) Complete(ctx context.Context, scope, key, resourceID string) error {
	if key == "" {
		return nil
	}
	return g.keys.Complete(ctx, scope, key, resourceID)
}

// Release frees a reservation whose side effect did not happen, so the
// client's retry is not blocked for the full TTL.
func (g *Guard) Release(ctx context.Context, scope, key string) {
	if key == "" {
		return
	}
	_ = g.keys.Release(ctx, scope, key)
}
