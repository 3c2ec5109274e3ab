package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/server/middleware"
)

// AuditHandler exposes the organization's audit trail.
type AuditHandler struct {
	store *config.Store
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(store *config.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// ListEvents returns the newest audit events for an organization.
// GET /api/v1/orgs/{orgID}/audit-events
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if !middleware.RequireAdminOrViewer(w, r) {
		return
	}
	if !middleware.RequireOrg(w, r, orgID) {
		return
	}

	limit := queryInt(r, "limit", 100)
	events, err := h.store.ListAuditEvents(r.Context(), orgID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.AuditEvent]{Items: events, Count: len(events)})
}
