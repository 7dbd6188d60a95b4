package models

import "time"

// AuditLog is an append-only trail of ledger mutations. Corrections driven by
// reconciliation review are recorded here, referencing the original entity,
// rather than rewriting ledger rows.
type AuditLog struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}
