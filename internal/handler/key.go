package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/server/middleware"
	"github.com/controlforge/controlforge/internal/service"
)

// KeyHandler manages org-scoped API keys.
type KeyHandler struct {
	store *config.Store
	audit *service.AuditService
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(store *config.Store, audit *service.AuditService) *KeyHandler {
	return &KeyHandler{store: store, audit: audit}
}

// ListKeys returns all API keys of an organization. Hashes are never
// serialized; only prefixes identify keys.
// GET /api/v1/orgs/{orgID}/keys
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if !middleware.RequireAdminOrViewer(w, r) {
		return
	}
	if !middleware.RequireOrg(w, r, orgID) {
		return
	}

	keys, err := h.store.ListAPIKeys(r.Context(), orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.APIKey]{Items: keys, Count: len(keys)})
}

type createKeyRequest struct {
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Scheme      string     `json:"scheme"` // "live" (default) or "test"
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IPAllowlist []string   `json:"ip_allowlist,omitempty"`
}

type createKeyResponse struct {
	Key    model.APIKey `json:"key"`
	RawKey string       `json:"raw_key"` // shown once, never retrievable again
}

// CreateKey generates a new API key bound to the organization. The raw
// secret is returned once; only its bcrypt hash is stored.
// POST /api/v1/orgs/{orgID}/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if !middleware.RequireAdmin(w, r) {
		return
	}
	if !middleware.RequireOrg(w, r, orgID) {
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Key name is required")
		return
	}
	role := model.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown role")
		return
	}

	rawKey, prefix, err := service.GenerateAPIKey(req.Scheme)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown key scheme")
		return
	}
	keyHash, err := service.HashAPIKeySecret(rawKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	principal := middleware.GetPrincipal(r.Context())
	key := &model.APIKey{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		CreatedBy:   principal.UserID,
		Name:        req.Name,
		Role:        role,
		KeyPrefix:   prefix,
		KeyHash:     keyHash,
		ExpiresAt:   req.ExpiresAt,
		IPAllowlist: req.IPAllowlist,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	h.audit.Record(principal, "api_key.created", "api_key", key.ID,
		map[string]any{"name": key.Name, "role": string(key.Role), "prefix": key.KeyPrefix})

	writeJSON(w, http.StatusCreated, createKeyResponse{Key: *key, RawKey: rawKey})
}

// RevokeKey revokes an API key. Revocation is permanent.
// DELETE /api/v1/orgs/{orgID}/keys/{keyID}
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	keyID := chi.URLParam(r, "keyID")
	if !middleware.RequireAdmin(w, r) {
		return
	}
	if !middleware.RequireOrg(w, r, orgID) {
		return
	}

	key, err := h.store.GetAPIKey(r.Context(), keyID)
	if err != nil || key.OrgID != orgID {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}

	if err := h.store.RevokeAPIKey(r.Context(), keyID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			// Already revoked.
			writeError(w, http.StatusConflict, "API key already revoked")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}

	h.audit.Record(middleware.GetPrincipal(r.Context()),
		"api_key.revoked", "api_key", keyID, map[string]any{"prefix": key.KeyPrefix})

	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}
