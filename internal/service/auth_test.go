package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
)

func newTestAuth(t *testing.T) (*AuthService, *config.Store) {
	t.Helper()
	store, err := config.NewStore(config.StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuthService(store, "test-secret-key-for-sessions", logger)
	return auth, store
}

// seedKey creates an org and an API key, returning the raw secret.
func seedKey(t *testing.T, store *config.Store, mutate func(*model.APIKey)) (raw string, key *model.APIKey) {
	t.Helper()
	ctx := context.Background()

	org := &model.Organization{ID: "org-1", Name: "Acme", IsActive: true}
	if err := store.CreateOrganization(ctx, org); err != nil && !strings.Contains(err.Error(), "UNIQUE") {
		t.Fatalf("CreateOrganization: %v", err)
	}

	raw, prefix, err := GenerateAPIKey("live")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	hash, err := HashAPIKeySecret(raw)
	if err != nil {
		t.Fatalf("HashAPIKeySecret: %v", err)
	}
	key = &model.APIKey{
		ID:        "key-" + prefix,
		OrgID:     "org-1",
		CreatedBy: "user-1",
		Name:      "ci",
		Role:      model.RoleViewer,
		KeyPrefix: prefix,
		KeyHash:   hash,
	}
	if mutate != nil {
		mutate(key)
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return raw, key
}

// ---------------------------------------------------------------------------
// Classifier
// ---------------------------------------------------------------------------

func TestClassifyCredential(t *testing.T) {
	tests := []struct {
		raw  string
		want CredentialKind
	}{
		{"cf_live_abc123", CredentialAPIKey},
		{"cf_test_abc123", CredentialAPIKey},
		{"cf_live_", CredentialAPIKey},
		{"eyJhbGciOiJIUzI1NiJ9.x.y", CredentialSessionToken},
		{"cf_prod_abc123", CredentialSessionToken},
		{"", CredentialSessionToken},
		{"garbage", CredentialSessionToken},
	}
	for _, tt := range tests {
		if got := ClassifyCredential(tt.raw); got != tt.want {
			t.Errorf("ClassifyCredential(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestGenerateAPIKeyFormat(t *testing.T) {
	raw, prefix, err := GenerateAPIKey("live")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, LiveKeyPrefix) {
		t.Errorf("raw key %q missing live prefix", raw)
	}
	if len(prefix) != KeyLookupLen {
		t.Errorf("prefix length = %d, want %d", len(prefix), KeyLookupLen)
	}
	if !strings.HasPrefix(raw, prefix) {
		t.Errorf("prefix %q is not a slice of the key %q", prefix, raw)
	}

	testRaw, _, err := GenerateAPIKey("test")
	if err != nil {
		t.Fatalf("GenerateAPIKey test scheme: %v", err)
	}
	if !strings.HasPrefix(testRaw, TestKeyPrefix) {
		t.Errorf("raw key %q missing test prefix", testRaw)
	}

	if _, _, err := GenerateAPIKey("staging"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

// ---------------------------------------------------------------------------
// Session tokens
// ---------------------------------------------------------------------------

func TestSessionTokenRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)

	token, err := auth.IssueSessionToken("user-42", "org-1", "admin@example.com", model.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	p, err := auth.VerifySessionToken(token)
	if err != nil {
		t.Fatalf("VerifySessionToken: %v", err)
	}
	if p.UserID != "user-42" || p.OrgID != "org-1" || p.Email != "admin@example.com" {
		t.Errorf("principal = %+v", p)
	}
	if p.Role != model.RoleAdmin {
		t.Errorf("Role = %q, want admin", p.Role)
	}
	if p.IsAPIKey {
		t.Error("session principals must not be flagged as API keys")
	}
}

func TestSessionTokenExpired(t *testing.T) {
	auth, _ := newTestAuth(t)

	token, err := auth.IssueSessionToken("u", "o", "e@x", model.RoleUser, -time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if _, err := auth.VerifySessionToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionTokenGarbage(t *testing.T) {
	auth, _ := newTestAuth(t)
	if _, err := auth.VerifySessionToken("garbage.token.here"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionTokenUnknownRole(t *testing.T) {
	auth, _ := newTestAuth(t)

	token, err := auth.IssueSessionToken("u", "o", "e@x", model.Role("owner"), time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if _, err := auth.VerifySessionToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

func TestSessionTokenWrongSecret(t *testing.T) {
	auth, store := newTestAuth(t)
	other := NewAuthService(store, "a-different-secret", slog.New(slog.NewTextHandler(io.Discard, nil)))

	token, err := other.IssueSessionToken("u", "o", "e@x", model.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if _, err := auth.VerifySessionToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong signature, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyVerifySuccess(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	raw, key := seedKey(t, store, nil)

	p, err := auth.VerifyAPIKey(ctx, raw, "203.0.113.9")
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if p.UserID != "user-1" {
		t.Errorf("UserID = %q, want the key creator", p.UserID)
	}
	if p.OrgID != "org-1" {
		t.Errorf("OrgID = %q", p.OrgID)
	}
	if p.Email != "api-key:ci" {
		t.Errorf("Email = %q, want synthesized api-key:ci", p.Email)
	}
	if p.Role != model.RoleViewer {
		t.Errorf("Role = %q", p.Role)
	}
	if !p.IsAPIKey {
		t.Error("expected IsAPIKey = true")
	}

	// Last-used update is asynchronous and best-effort; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.GetAPIKey(ctx, key.ID)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		if got.LastUsedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("last_used_at was never set")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAPIKeyVerifyUnknownPrefix(t *testing.T) {
	auth, _ := newTestAuth(t)
	_, err := auth.VerifyAPIKey(context.Background(), "cf_live_abc123456789abcdef", "203.0.113.9")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAPIKeyVerifyTooShort(t *testing.T) {
	auth, _ := newTestAuth(t)
	_, err := auth.VerifyAPIKey(context.Background(), "cf_live_", "203.0.113.9")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAPIKeyVerifyWrongSecret(t *testing.T) {
	auth, store := newTestAuth(t)

	raw, _ := seedKey(t, store, nil)
	// Same lookup prefix, wrong tail: the lookup succeeds but the bcrypt
	// comparison must reject.
	wrong := raw[:KeyLookupLen] + strings.Repeat("0", len(raw)-KeyLookupLen)
	_, err := auth.VerifyAPIKey(context.Background(), wrong, "203.0.113.9")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAPIKeyVerifyRevoked(t *testing.T) {
	auth, store := newTestAuth(t)

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	raw, _ := seedKey(t, store, func(k *model.APIKey) {
		// Revoked AND expired: revocation must win.
		k.RevokedAt = &now
		k.ExpiresAt = &past
	})

	_, err := auth.VerifyAPIKey(context.Background(), raw, "203.0.113.9")
	if !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("expected ErrKeyRevoked, got %v", err)
	}
}

func TestAPIKeyVerifyExpiredBeforeSecretCheck(t *testing.T) {
	auth, store := newTestAuth(t)

	past := time.Now().UTC().Add(-time.Minute)
	raw, _ := seedKey(t, store, func(k *model.APIKey) {
		k.ExpiresAt = &past
		// Garbage hash: if the secret comparison ran first this would
		// surface as ErrInvalidKey instead.
		k.KeyHash = "not-a-bcrypt-hash"
	})

	_, err := auth.VerifyAPIKey(context.Background(), raw, "203.0.113.9")
	if !errors.Is(err, ErrKeyExpired) {
		t.Errorf("expected ErrKeyExpired, got %v", err)
	}
}

func TestAPIKeyVerifyIPAllowlist(t *testing.T) {
	auth, store := newTestAuth(t)
	ctx := context.Background()

	raw, _ := seedKey(t, store, func(k *model.APIKey) {
		k.IPAllowlist = []string{"10.0.0.1", "10.0.0.2"}
	})

	if _, err := auth.VerifyAPIKey(ctx, raw, "192.168.1.50"); !errors.Is(err, ErrIPNotAllowed) {
		t.Errorf("expected ErrIPNotAllowed, got %v", err)
	}

	p, err := auth.VerifyAPIKey(ctx, raw, "10.0.0.2")
	if err != nil {
		t.Fatalf("VerifyAPIKey with allowlisted ip: %v", err)
	}
	if !p.IsAPIKey {
		t.Error("expected API key principal")
	}
}

func TestAPIKeyVerifyWrongSecretHidesAllowlist(t *testing.T) {
	auth, store := newTestAuth(t)

	raw, _ := seedKey(t, store, func(k *model.APIKey) {
		k.IPAllowlist = []string{"10.0.0.1"}
	})
	wrong := raw[:KeyLookupLen] + strings.Repeat("0", len(raw)-KeyLookupLen)

	// Wrong secret from a non-allowlisted address: must report the invalid
	// key, never the allowlist verdict.
	_, err := auth.VerifyAPIKey(context.Background(), wrong, "192.168.1.50")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAPIKeyVerifyStoreUnavailable(t *testing.T) {
	auth, store := newTestAuth(t)

	raw, _ := seedKey(t, store, nil)
	store.Close()

	_, err := auth.VerifyAPIKey(context.Background(), raw, "203.0.113.9")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for closed store, got %v", err)
	}
}
