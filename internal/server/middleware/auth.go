package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/service"
	"github.com/controlforge/controlforge/internal/telemetry"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

const bearerScheme = "Bearer "

// AuthConfig controls which request paths bypass authentication entirely.
type AuthConfig struct {
	// PublicPaths are exact-match paths exempt from authentication.
	PublicPaths []string
	// HealthPathPrefix exempts every path that starts with it.
	HealthPathPrefix string
}

// Authenticate returns the pre-route authentication hook. It is the single
// enforcement point: installed at the router root, no handler is reachable
// without passing through it except for the configured public set.
//
// For non-public paths it requires an Authorization header with exactly the
// Bearer scheme, classifies the credential, dispatches to the matching
// verifier, and attaches the resulting Principal to the request context.
// Any failure terminates the request with a single JSON error response.
func Authenticate(authSvc *service.AuthService, cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if _, ok := public[path]; ok ||
				(cfg.HealthPathPrefix != "" && strings.HasPrefix(path, cfg.HealthPathPrefix)) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerScheme) || header == bearerScheme {
				writeAuthError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
				return
			}
			raw := strings.TrimPrefix(header, bearerScheme)

			var (
				principal *service.Principal
				err       error
			)
			switch service.ClassifyCredential(raw) {
			case service.CredentialAPIKey:
				principal, err = authSvc.VerifyAPIKey(r.Context(), raw, clientIP(r))
				if err != nil {
					status, message, class := apiKeyFailure(err)
					telemetry.AuthAttempts.WithLabelValues("api_key", class).Inc()
					writeAuthError(w, status, message)
					return
				}
				telemetry.AuthAttempts.WithLabelValues("api_key", "ok").Inc()
			default:
				principal, err = authSvc.VerifySessionToken(raw)
				if err != nil {
					telemetry.AuthAttempts.WithLabelValues("session", "invalid").Inc()
					writeAuthError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
				telemetry.AuthAttempts.WithLabelValues("session", "ok").Inc()
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// apiKeyFailure maps an API key verification error to its terminal response.
// Only the IP allowlist rejects with 403: the secret was correct, so the
// caller is authenticated but forbidden.
func apiKeyFailure(err error) (status int, message, class string) {
	switch {
	case errors.Is(err, service.ErrKeyRevoked):
		return http.StatusUnauthorized, "API key has been revoked", "revoked"
	case errors.Is(err, service.ErrKeyExpired):
		return http.StatusUnauthorized, "API key has expired", "expired"
	case errors.Is(err, service.ErrIPNotAllowed):
		return http.StatusForbidden, "IP address not in allowlist", "ip_not_allowed"
	case errors.Is(err, service.ErrAuthFailed):
		return http.StatusUnauthorized, "API key authentication failed", "error"
	default:
		return http.StatusUnauthorized, "Invalid API key", "invalid"
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// clientIP returns the requesting client address. The RealIP middleware has
// already folded X-Forwarded-For / X-Real-IP into RemoteAddr, which may or
// may not carry a port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: message})
}
