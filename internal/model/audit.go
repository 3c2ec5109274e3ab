package model

import "time"

// AuditEvent records an authenticated state-changing operation. Events are
// written best-effort after the operation succeeds; a lost event never fails
// the request that produced it.
type AuditEvent struct {
	ID         string         `json:"id" db:"id"`
	OrgID      string         `json:"org_id" db:"org_id"`
	ActorID    string         `json:"actor_id" db:"actor_id"`
	ActorEmail string         `json:"actor_email" db:"actor_email"`
	Action     string         `json:"action" db:"action"`
	TargetType string         `json:"target_type" db:"target_type"`
	TargetID   string         `json:"target_id" db:"target_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
