package model

import "time"

// APIKey is a long-lived credential bound to an organization. The raw secret
// is shown once at creation; only a bcrypt hash and the fixed-length lookup
// prefix are persisted.
type APIKey struct {
	ID          string     `json:"id" db:"id"`
	OrgID       string     `json:"org_id" db:"org_id"`
	CreatedBy   string     `json:"created_by" db:"created_by"`
	Name        string     `json:"name" db:"name"`
	Role        Role       `json:"role" db:"role"`
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"` // first 16 chars, unique lookup key
	KeyHash     string     `json:"-" db:"key_hash"`            // bcrypt hash, never expose
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	IPAllowlist []string   `json:"ip_allowlist,omitempty"` // empty = unrestricted
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
