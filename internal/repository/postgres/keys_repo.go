package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/stateset/stablepay/internal/repository"
)

// keysRepo backs the idempotency guard with a uniquely-constrained table.
// The INSERT ... ON CONFLICT DO NOTHING is the atomic reserve step: exactly
// one of two concurrent callers with the same key inserts the row.
type keysRepo struct{ pool *pgxpool.Pool }

func (r *keysRepo) Reserve(ctx context.Context, scope, key string, ttl time.Duration) (repo.KeyState, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO idempotency_keys (scope, key, resource_id, completed, reserved_at)
VALUES ($1, $2, '', false, now())
ON CONFLICT (scope, key) DO NOTHING`,
		scope, key,
	)
	if err != nil {
		return repo.KeyState{}, err
	}
	if tag.RowsAffected() == 1 {
		return repo.KeyState{}, nil
	}

	var st repo.KeyState
	err = r.pool.QueryRow(ctx,
		`SELECT key, scope, resource_id, completed, reserved_at
		   FROM idempotency_keys
		  WHERE scope=$1 AND key=$2`,
		scope, key,
	).Scan(&st.Key, &st.Scope, &st.ResourceID, &st.Completed, &st.ReservedAt)
	if err != nil {
		return repo.KeyState{}, err
	}
	if st.Completed {
		return st, nil
	}

	// Pending row. A fresh reservation belongs to an in-flight caller; a
	// stale one (crashed caller) is taken over with a conditional update so
	// only one retrier wins.
	tag, err = r.pool.Exec(ctx, `
UPDATE idempotency_keys
   SET reserved_at=now()
 WHERE scope=$1 AND key=$2 AND completed=false
   AND reserved_at <= now() - make_interval(secs => $3)`,
		scope, key, ttl.Seconds(),
	)
	if err != nil {
		return repo.KeyState{}, err
	}
	if tag.RowsAffected() == 1 {
		return repo.KeyState{}, nil
	}
	return st, repo.ErrKeyReserved
}

func (r *keysRepo) Complete(ctx context.Context, scope, key, resourceID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE idempotency_keys
		    SET completed=true, resource_id=$3
		  WHERE scope=$1 AND key=$2`,
		scope, key, resourceID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *keysRepo) Release(ctx context.Context, scope, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE scope=$1 AND key=$2 AND completed=false`,
		scope, key,
	)
	return err
}
