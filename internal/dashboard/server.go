// Package dashboard serves the admin HTTP surface: force reconciliation,
// synthetic event injection, alert cleanup, and engine statistics.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/tknox12/alertbridge/internal/models"
	"github.com/tknox12/alertbridge/internal/reconcile"
	"github.com/tknox12/alertbridge/internal/storage"
)

const (
	// defaultCleanupHours is the eviction age when the request omits hours.
	defaultCleanupHours = 24
	// maxCleanupHours caps the eviction age a request may ask for.
	maxCleanupHours = 168
)

// Server is the admin HTTP surface.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	alerts     *storage.AlertStore
	contracts  *storage.ContractStore
	reconciler *reconcile.Service
	logger     *logrus.Logger
	listenAddr string
	authToken  string
}

// Config holds server settings.
type Config struct {
	ListenAddr string
	AuthToken  string
}

// NewServer creates the admin server.
func NewServer(cfg Config, alerts *storage.AlertStore, contracts *storage.ContractStore,
	reconciler *reconcile.Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:     chi.NewRouter(),
		alerts:     alerts,
		contracts:  contracts,
		reconciler: reconciler,
		logger:     logger,
		listenAddr: cfg.ListenAddr,
		authToken:  cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Post("/api/reconcile", s.handleForceReconcile)
	s.router.Post("/api/simulate", s.handleSimulate)
	s.router.Post("/api/alerts/cleanup", s.handleCleanup)
	s.router.Delete("/api/alerts", s.handleClearAlerts)
	s.router.Get("/api/alerts", s.handleGetAlerts)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting admin server on %s", s.listenAddr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleForceReconcile(w http.ResponseWriter, r *http.Request) {
	count, err := s.reconciler.ForceReconcile(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Force reconcile failed")
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"fills_processed": count})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var event models.OrderEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}
	if event.Symbol == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
		return
	}

	s.reconciler.SimulateEvent(event)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "injected"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	hours := defaultCleanupHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours must be a positive integer"})
			return
		}
		hours = parsed
	}
	if hours > maxCleanupHours {
		hours = maxCleanupHours
	}

	evicted := s.alerts.EvictStale(time.Duration(hours) * time.Hour)
	expired := s.contracts.CleanupExpired()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts_evicted":    evicted,
		"contracts_removed": expired,
		"hours":             hours,
	})
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	count := s.alerts.ClearAll()
	s.logger.Warnf("Cleared all %d alert records", count)
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": count})
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.alerts.Summaries())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reconcile": s.reconciler.Stats(),
		"alerts":    map[string]int{"count": s.alerts.Count()},
		"contracts": s.contracts.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
