package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-stream-access/internal/usecase"
)

// Server is the operator HTTP surface: health, metrics, and a small
// authenticated admin API.
type Server struct {
	stats  usecase.StatsUseCase
	ent    usecase.EntitlementUseCase
	inv    usecase.InventoryUseCase
	maint  usecase.MaintenanceUseCase
	apiKey string
	auth   *AuthManager
	log    *zerolog.Logger
}

type Deps struct {
	Stats        usecase.StatsUseCase
	Entitlements usecase.EntitlementUseCase
	Inventory    usecase.InventoryUseCase
	Maintenance  usecase.MaintenanceUseCase
}

func NewServer(d Deps, apiKey string, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "admin_http").Logger()
	return &Server{
		stats:  d.Stats,
		ent:    d.Entitlements,
		inv:    d.Inventory,
		maint:  d.Maintenance,
		apiKey: apiKey,
		auth:   auth,
		log:    &l,
	}
}

// Router builds the chi routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/admin/auth/login", s.login)
		r.Post("/admin/auth/logout", s.logout)

		if s.auth == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Require)
			r.Get("/stats", s.getStats)
			r.Get("/users", s.listUsers)
			r.Get("/stock", s.listStock)
			r.Get("/sold", s.listSold)
			r.Post("/keys", s.generateKey)
			r.Post("/maintenance/run", s.runMaintenance)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("admin http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin http: %w", err)
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("admin http shutdown: %w", err)
		}
		return nil
	}
}

type loginRequest struct {
	Key string `json:"key"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || s.apiKey == "" {
		writeError(w, http.StatusUnauthorized, "admin api is not configured")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Key), []byte(s.apiKey)) != 1 {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("admin login rejected")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if _, err := s.auth.Mint(w, "admin"); err != nil {
		s.log.Error().Err(err).Msg("mint admin session")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	if s.auth != nil {
		s.auth.Clear(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
