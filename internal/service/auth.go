package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/telemetry"
)

// API key string format: <scheme prefix><hex secret>. The first 16 characters
// of the full string form the store lookup key. Both scheme prefixes are 8
// characters, so the lookup key always carries 8 hex characters of entropy.
const (
	LiveKeyPrefix = "cf_live_"
	TestKeyPrefix = "cf_test_"

	// KeyLookupLen is the fixed length of the public lookup prefix.
	KeyLookupLen = 16

	// keySecretBytes is the random payload size. 24 bytes hex-encode to 48
	// characters, keeping the full key under bcrypt's 72-byte input limit.
	keySecretBytes = 24
)

var (
	// ErrInvalidToken covers bad signature, malformed structure, expiry,
	// and unknown roles in session tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidKey covers both unknown prefixes and secret mismatches, so
	// a caller cannot distinguish the two.
	ErrInvalidKey = errors.New("invalid api key")

	ErrKeyRevoked   = errors.New("api key revoked")
	ErrKeyExpired   = errors.New("api key expired")
	ErrIPNotAllowed = errors.New("ip address not in allowlist")

	// ErrAuthFailed reports an infrastructure fault during API key
	// verification without disclosing that the store is the cause.
	ErrAuthFailed = errors.New("api key authentication failed")
)

// CredentialKind classifies a raw bearer credential.
type CredentialKind int

const (
	CredentialSessionToken CredentialKind = iota
	CredentialAPIKey
)

// ClassifyCredential decides whether a raw bearer string is an API key or a
// session token. It is total: unclassifiable strings fall through to
// SessionToken and are rejected later by signature verification.
func ClassifyCredential(raw string) CredentialKind {
	if strings.HasPrefix(raw, LiveKeyPrefix) || strings.HasPrefix(raw, TestKeyPrefix) {
		return CredentialAPIKey
	}
	return CredentialSessionToken
}

// Principal is the authenticated identity attached to a request. Its
// presence on the request context is the authoritative signal that
// authentication succeeded.
type Principal struct {
	UserID   string
	OrgID    string
	Email    string
	Role     model.Role
	IsAPIKey bool
}

// AuthService verifies already-issued credentials. Token issuance (login,
// refresh, exchange) belongs to an external flow.
type AuthService struct {
	store         *config.Store
	sessionSecret []byte
	logger        *slog.Logger
}

// NewAuthService creates an AuthService backed by the given credential store.
func NewAuthService(store *config.Store, sessionSecret string, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:         store,
		sessionSecret: []byte(sessionSecret),
		logger:        logger,
	}
}

type sessionClaims struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// VerifySessionToken validates a signed session token and extracts the
// embedded principal. It performs no store I/O.
func (s *AuthService) VerifySessionToken(tokenStr string) (*Principal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.sessionSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	role := model.Role(claims.Role)
	if !role.Valid() {
		return nil, ErrInvalidToken
	}

	return &Principal{
		UserID: claims.UserID,
		OrgID:  claims.OrgID,
		Email:  claims.Email,
		Role:   role,
	}, nil
}

// VerifyAPIKey validates a full API key secret for a request from clientIP.
// Checks run in a fixed order and fail closed: prefix lookup, revocation,
// expiry, secret comparison, IP allowlist. The allowlist is checked after
// the secret comparison so a wrong secret never discloses whether the
// caller's IP would have been accepted.
func (s *AuthService) VerifyAPIKey(ctx context.Context, secret, clientIP string) (*Principal, error) {
	if len(secret) < KeyLookupLen {
		return nil, ErrInvalidKey
	}

	key, err := s.store.GetAPIKeyByPrefix(ctx, secret[:KeyLookupLen])
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		// Store unavailability must not leak to the caller.
		s.logger.Error("api key lookup failed", "error", err)
		return nil, ErrAuthFailed
	}

	if key.RevokedAt != nil {
		return nil, ErrKeyRevoked
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrKeyExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
		return nil, ErrInvalidKey
	}

	if len(key.IPAllowlist) > 0 && !containsIP(key.IPAllowlist, clientIP) {
		return nil, ErrIPNotAllowed
	}

	// Best-effort last-used update. Failure is observed only via metrics;
	// it must never affect the authentication outcome.
	keyID := key.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateAPIKeyLastUsed(ctx, keyID); err != nil {
			telemetry.LastUsedUpdateFailures.Inc()
			s.logger.Debug("api key last-used update failed", "key_id", keyID, "error", err)
		}
	}()

	return &Principal{
		UserID:   key.CreatedBy,
		OrgID:    key.OrgID,
		Email:    "api-key:" + key.Name,
		Role:     key.Role,
		IsAPIKey: true,
	}, nil
}

func containsIP(allowlist []string, ip string) bool {
	for _, a := range allowlist {
		if a == ip {
			return true
		}
	}
	return false
}

// IssueSessionToken signs a session token for the given identity. The server
// exposes no issuance endpoint; this exists for the CLI and for tests that
// need a validly signed token.
func (s *AuthService) IssueSessionToken(userID, orgID, email string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: userID,
		OrgID:  orgID,
		Email:  email,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "controlforge",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.sessionSecret)
}

// GenerateAPIKey produces a new raw key for the given scheme ("live" or
// "test") along with its lookup prefix. The raw key is shown once and never
// stored.
func GenerateAPIKey(scheme string) (raw, prefix string, err error) {
	var schemePrefix string
	switch scheme {
	case "live", "":
		schemePrefix = LiveKeyPrefix
	case "test":
		schemePrefix = TestKeyPrefix
	default:
		return "", "", fmt.Errorf("unknown key scheme %q", scheme)
	}

	buf := make([]byte, keySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate random key: %w", err)
	}
	raw = schemePrefix + hex.EncodeToString(buf)
	return raw, raw[:KeyLookupLen], nil
}

// HashAPIKeySecret returns the bcrypt hash of a raw API key for storage.
func HashAPIKeySecret(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}
