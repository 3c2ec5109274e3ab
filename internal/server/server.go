package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/handler"
	"github.com/controlforge/controlforge/internal/server/middleware"
	"github.com/controlforge/controlforge/internal/service"
	"github.com/controlforge/controlforge/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// PublicPaths and HealthPathPrefix feed the authentication hook's
	// bypass set (exact match plus prefix match).
	PublicPaths      []string
	HealthPathPrefix string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		PublicPaths:      []string{"/", "/metrics", "/readyz"},
		HealthPathPrefix: "/health",
	}
}

// Server is the top-level HTTP server for the control plane. It owns the
// Chi router, the credential store, and the auth and audit services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	authSvc    *service.AuthService
	auditSvc   *service.AuditService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, auditSvc *service.AuditService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		authSvc:  authSvc,
		auditSvc: auditSvc,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Authentication runs before every route; the configured public set is
	// the only way around it.
	r.Use(middleware.Authenticate(s.authSvc, middleware.AuthConfig{
		PublicPaths:      s.cfg.PublicPaths,
		HealthPathPrefix: s.cfg.HealthPathPrefix,
	}))

	// --- Public endpoints ---
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealthz)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", telemetry.Handler())

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		orgHandler := handler.NewOrgHandler(s.store, s.auditSvc)
		keyHandler := handler.NewKeyHandler(s.store, s.auditSvc)
		auditHandler := handler.NewAuditHandler(s.store)

		r.Route("/orgs", func(r chi.Router) {
			r.Post("/", orgHandler.CreateOrg)

			r.Route("/{orgID}", func(r chi.Router) {
				r.Get("/", orgHandler.GetOrg)
				r.Patch("/", orgHandler.UpdateOrg)

				r.Get("/keys", keyHandler.ListKeys)
				r.Post("/keys", keyHandler.CreateKey)
				r.Delete("/keys/{keyID}", keyHandler.RevokeKey)

				r.Get("/audit-events", auditHandler.ListEvents)
			})
		})
	})

	s.router = r
}

// handleRoot identifies the service. Public.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"service":"controlforge"}`))
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// is reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and pending audit writes.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.auditSvc.Wait()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
