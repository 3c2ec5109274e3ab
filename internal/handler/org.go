package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/server/middleware"
	"github.com/controlforge/controlforge/internal/service"
)

// OrgHandler manages the organization surface of the control plane.
type OrgHandler struct {
	store *config.Store
	audit *service.AuditService
}

// NewOrgHandler creates a new OrgHandler.
func NewOrgHandler(store *config.Store, audit *service.AuditService) *OrgHandler {
	return &OrgHandler{store: store, audit: audit}
}

type createOrgRequest struct {
	Name string `json:"name"`
}

// CreateOrg creates a new organization.
// POST /api/v1/orgs
func (h *OrgHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	if !middleware.RequireAdmin(w, r) {
		return
	}

	var req createOrgRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Organization name is required")
		return
	}

	org := &model.Organization{
		ID:       uuid.NewString(),
		Name:     req.Name,
		IsActive: true,
	}
	if err := h.store.CreateOrganization(r.Context(), org); err != nil {
		writeError(w, http.StatusConflict, "Organization could not be created")
		return
	}

	h.audit.Record(middleware.GetPrincipal(r.Context()),
		"organization.created", "organization", org.ID, map[string]any{"name": org.Name})

	writeJSON(w, http.StatusCreated, org)
}

// GetOrg returns a single organization. The caller must belong to it.
// GET /api/v1/orgs/{orgID}
func (h *OrgHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if !middleware.RequireAdminOrViewer(w, r) {
		return
	}
	if !middleware.RequireOrg(w, r, orgID) {
		return
	}

	org, err := h.store.GetOrganization(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Organization not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load organization")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

type updateOrgRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// UpdateOrg updates an organization's mutable fields.
// PATCH /api/v1/orgs/{orgID}
func (h *OrgHandler) UpdateOrg(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if !middleware.RequireAdmin(w, r) {
		return
	}
	if !middleware.RequireOrg(w, r, orgID) {
		return
	}

	var req updateOrgRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	org, err := h.store.GetOrganization(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Organization not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load organization")
		return
	}

	if req.Name != nil {
		org.Name = *req.Name
	}
	if req.IsActive != nil {
		org.IsActive = *req.IsActive
	}
	if err := h.store.UpdateOrganization(r.Context(), org); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update organization")
		return
	}

	h.audit.Record(middleware.GetPrincipal(r.Context()),
		"organization.updated", "organization", org.ID, nil)

	writeJSON(w, http.StatusOK, org)
}
