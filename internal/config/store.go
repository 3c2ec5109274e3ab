package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/controlforge/controlforge/internal/model"
)

// StoreConfig selects and configures the credential store backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is the connection string for Postgres.
	DSN string
	// DataDir is the directory for the SQLite database file. Empty means
	// in-memory, which is what the tests use.
	DataDir string
}

// Store is the credential store: organizations, users, API keys, and audit
// events. It is read-mostly; the only hot-path mutation is the best-effort
// last-used timestamp update on API keys.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the configured backend and runs migrations.
func NewStore(cfg StoreConfig) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		var dsn string
		if cfg.DataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "controlforge.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	case "postgres":
		db, err = sqlx.Connect("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

// CreateOrganization inserts a new organization. CreatedAt and UpdatedAt are
// populated here; the ID must already be set.
func (s *Store) CreateOrganization(ctx context.Context, org *model.Organization) error {
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	const q = `INSERT INTO organizations (id, name, is_active, created_at, updated_at)
		VALUES (:id, :name, :is_active, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, org); err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// GetOrganization returns an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	q := s.db.Rebind("SELECT * FROM organizations WHERE id = ?")
	if err := s.db.GetContext(ctx, &org, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// ListOrganizations returns all organizations ordered by creation time.
func (s *Store) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	var orgs []model.Organization
	if err := s.db.SelectContext(ctx, &orgs, "SELECT * FROM organizations ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// UpdateOrganization updates the mutable fields of an organization.
func (s *Store) UpdateOrganization(ctx context.Context, org *model.Organization) error {
	org.UpdatedAt = time.Now().UTC()
	const q = `UPDATE organizations SET name = :name, is_active = :is_active,
		updated_at = :updated_at WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, org)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update organization rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. The ID must already be set.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = time.Now().UTC()
	const q = `INSERT INTO users (id, org_id, email, name, role, is_active, created_at)
		VALUES (:id, :org_id, :email, :name, :role, :is_active, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	q := s.db.Rebind("SELECT * FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow maps 1:1 to the api_keys table. The allowlist is stored as a
// JSON array column, so the model struct can't be scanned directly.
type apiKeyRow struct {
	ID            string     `db:"id"`
	OrgID         string     `db:"org_id"`
	CreatedBy     string     `db:"created_by"`
	Name          string     `db:"name"`
	Role          string     `db:"role"`
	KeyPrefix     string     `db:"key_prefix"`
	KeyHash       string     `db:"key_hash"`
	RevokedAt     *time.Time `db:"revoked_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
	AllowlistJSON string     `db:"ip_allowlist_json"`
	LastUsedAt    *time.Time `db:"last_used_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	allowlist := k.IPAllowlist
	if allowlist == nil {
		allowlist = []string{}
	}
	allowJSON, err := json.Marshal(allowlist)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal ip allowlist: %w", err)
	}
	return apiKeyRow{
		ID:            k.ID,
		OrgID:         k.OrgID,
		CreatedBy:     k.CreatedBy,
		Name:          k.Name,
		Role:          string(k.Role),
		KeyPrefix:     k.KeyPrefix,
		KeyHash:       k.KeyHash,
		RevokedAt:     k.RevokedAt,
		ExpiresAt:     k.ExpiresAt,
		AllowlistJSON: string(allowJSON),
		LastUsedAt:    k.LastUsedAt,
		CreatedAt:     k.CreatedAt,
	}, nil
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	var allowlist []string
	if err := json.Unmarshal([]byte(r.AllowlistJSON), &allowlist); err != nil {
		return model.APIKey{}, fmt.Errorf("unmarshal ip allowlist: %w", err)
	}
	return model.APIKey{
		ID:          r.ID,
		OrgID:       r.OrgID,
		CreatedBy:   r.CreatedBy,
		Name:        r.Name,
		Role:        model.Role(r.Role),
		KeyPrefix:   r.KeyPrefix,
		KeyHash:     r.KeyHash,
		RevokedAt:   r.RevokedAt,
		ExpiresAt:   r.ExpiresAt,
		IPAllowlist: allowlist,
		LastUsedAt:  r.LastUsedAt,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// CreateAPIKey inserts a new API key record. The key_hash must already be set
// to the bcrypt hash of the full secret; the raw secret is never stored.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(id, org_id, created_by, name, role, key_prefix, key_hash,
		 revoked_at, expires_at, ip_allowlist_json, last_used_at, created_at)
		VALUES
		(:id, :org_id, :created_by, :name, :role, :key_prefix, :key_hash,
		 :revoked_at, :expires_at, :ip_allowlist_json, :last_used_at, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByPrefix looks up at most one API key by its fixed-length lookup
// prefix. The prefix column carries a unique index, so a prefix narrows to
// zero or one record.
func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT * FROM api_keys WHERE key_prefix = ?")
	if err := s.db.GetContext(ctx, &row, q, prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns all API keys belonging to an organization.
func (s *Store) ListAPIKeys(ctx context.Context, orgID string) ([]model.APIKey, error) {
	var rows []apiKeyRow
	q := s.db.Rebind("SELECT * FROM api_keys WHERE org_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &rows, q, orgID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		key, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// RevokeAPIKey sets the revocation timestamp on an API key. Revocation is
// permanent; revoked keys are kept for audit purposes.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL")
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
// Callers treat this as best-effort; a lost update is acceptable.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE api_keys SET last_used_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit events
// ---------------------------------------------------------------------------

type auditEventRow struct {
	ID           string    `db:"id"`
	OrgID        string    `db:"org_id"`
	ActorID      string    `db:"actor_id"`
	ActorEmail   string    `db:"actor_email"`
	Action       string    `db:"action"`
	TargetType   string    `db:"target_type"`
	TargetID     string    `db:"target_id"`
	MetadataJSON string    `db:"metadata_json"`
	CreatedAt    time.Time `db:"created_at"`
}

// InsertAuditEvent appends an audit event. CreatedAt is populated here.
func (s *Store) InsertAuditEvent(ctx context.Context, ev *model.AuditEvent) error {
	ev.CreatedAt = time.Now().UTC()

	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	row := auditEventRow{
		ID:           ev.ID,
		OrgID:        ev.OrgID,
		ActorID:      ev.ActorID,
		ActorEmail:   ev.ActorEmail,
		Action:       ev.Action,
		TargetType:   ev.TargetType,
		TargetID:     ev.TargetID,
		MetadataJSON: string(metaJSON),
		CreatedAt:    ev.CreatedAt,
	}

	const q = `INSERT INTO audit_events
		(id, org_id, actor_id, actor_email, action, target_type, target_id, metadata_json, created_at)
		VALUES
		(:id, :org_id, :actor_id, :actor_email, :action, :target_type, :target_id, :metadata_json, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the newest audit events for an organization.
func (s *Store) ListAuditEvents(ctx context.Context, orgID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []auditEventRow
	q := s.db.Rebind("SELECT * FROM audit_events WHERE org_id = ? ORDER BY created_at DESC LIMIT ?")
	if err := s.db.SelectContext(ctx, &rows, q, orgID, limit); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	events := make([]model.AuditEvent, 0, len(rows))
	for _, r := range rows {
		var meta map[string]any
		if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		events = append(events, model.AuditEvent{
			ID:         r.ID,
			OrgID:      r.OrgID,
			ActorID:    r.ActorID,
			ActorEmail: r.ActorEmail,
			Action:     r.Action,
			TargetType: r.TargetType,
			TargetID:   r.TargetID,
			Metadata:   meta,
			CreatedAt:  r.CreatedAt,
		})
	}
	return events, nil
}
