package middleware

import (
	"net/http"

	"github.com/controlforge/controlforge/internal/model"
)

// Guards are invoked explicitly by route handlers after the authentication
// hook has (or has not) attached a Principal. Each guard either passes and
// returns true, or writes a single terminal error response and returns
// false. Handlers must stop on false — that is the cooperative
// short-circuit contract. Invoking a guard on an already-terminated request
// is a no-op, so sequential guard composition never double-writes.

// RequireAdmin passes only for principals with the admin role.
func RequireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if ResponseWritten(w) {
		return false
	}
	p := GetPrincipal(r.Context())
	if p == nil {
		writeAuthError(w, http.StatusUnauthorized, "Authentication required")
		return false
	}
	switch p.Role {
	case model.RoleAdmin:
		return true
	case model.RoleViewer, model.RoleUser:
	}
	writeAuthError(w, http.StatusForbidden, "Admin access required")
	return false
}

// RequireAdminOrViewer passes for admin and viewer principals.
func RequireAdminOrViewer(w http.ResponseWriter, r *http.Request) bool {
	if ResponseWritten(w) {
		return false
	}
	p := GetPrincipal(r.Context())
	if p == nil {
		writeAuthError(w, http.StatusUnauthorized, "Authentication required")
		return false
	}
	switch p.Role {
	case model.RoleAdmin, model.RoleViewer:
		return true
	case model.RoleUser:
	}
	writeAuthError(w, http.StatusForbidden, "Admin or viewer access required")
	return false
}

// RequireOrg passes only for principals belonging to targetOrgID.
func RequireOrg(w http.ResponseWriter, r *http.Request, targetOrgID string) bool {
	if ResponseWritten(w) {
		return false
	}
	p := GetPrincipal(r.Context())
	if p == nil {
		writeAuthError(w, http.StatusUnauthorized, "Authentication required")
		return false
	}
	if p.OrgID != targetOrgID {
		writeAuthError(w, http.StatusForbidden, "Access denied: organization mismatch")
		return false
	}
	return true
}

// ResponseWritten reports whether a response header has already been sent,
// probing down the ResponseWriter wrap chain. Writers outside this package's
// middleware (bare httptest recorders, for example) report false.
func ResponseWritten(w http.ResponseWriter) bool {
	for {
		if ww, ok := w.(interface{ Written() bool }); ok {
			return ww.Written()
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}
