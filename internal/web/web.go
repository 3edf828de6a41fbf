package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meetcal/internal/config"
	"meetcal/internal/kdate"
	appLog "meetcal/internal/log"
	"meetcal/internal/model"
	"meetcal/internal/schedule"
)

// Service is the schedule facade the HTTP API exposes.
type Service interface {
	MySchedule(ctx context.Context, userID string, months int) (schedule.MyScheduleResponse, error)
	Overlap(ctx context.Context, userID, text string) (schedule.ScheduleOverlapResponse, error)
	Recommend(ctx context.Context, participants []string, candidate string, days, topN int) (schedule.DualRecommendationResponse, error)
	Refresh(userID string) error
}

// HealthFunc reports whether a dependency such as the database is usable.
type HealthFunc func(ctx context.Context) error

// Server provides the JSON API over the schedule service.
type Server struct {
	cfg    *config.Config
	svc    Service
	health HealthFunc
	router *mux.Router
}

func NewServer(cfg *config.Config, svc Service) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// WithHealthCheck makes /health report 503 while fn fails.
func (s *Server) WithHealthCheck(fn HealthFunc) *Server {
	s.health = fn
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="meetcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/users/{userId}/schedule", s.handleSchedule).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/overlap", s.handleOverlap).Methods(http.MethodPost)
	api.HandleFunc("/users/{userId}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/recommendations", s.handleRecommend).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			appLog.Error("health check failed", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNAVAILABLE"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSchedule returns the caller's availability summary.
//
// GET /api/users/{userId}/schedule?months=1
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	months, err := parseIntDefault(r.URL.Query().Get("months"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "months must be an integer")
		return
	}

	resp, err := s.svc.MySchedule(r.Context(), userID, months)
	if err != nil {
		s.fail(w, "schedule", err, "user_id", userID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type overlapRequest struct {
	Text string `json:"text"`
}

// handleOverlap matches grouped Korean date text against the user's
// availability.
//
// POST /api/users/{userId}/overlap {"text": "10월 1 2 3"}
func (s *Server) handleOverlap(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var req overlapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.svc.Overlap(r.Context(), userID, req.Text)
	if err != nil {
		s.fail(w, "overlap", err, "user_id", userID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type recommendRequest struct {
	Participants []string `json:"participants"`
	Candidate    string   `json:"candidate"`
	Days         int      `json:"days"`
	Top          int      `json:"top"`
}

// handleRecommend ranks meeting days for a group.
//
// POST /api/recommendations {"participants": ["a","b"], "candidate": "c", "days": 30, "top": 5}
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.svc.Recommend(r.Context(), req.Participants, req.Candidate, req.Days, req.Top)
	if err != nil {
		s.fail(w, "recommend", err, "participants", len(req.Participants))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := s.svc.Refresh(userID); err != nil {
		s.fail(w, "refresh", err, "user_id", userID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps service errors to status codes: caller mistakes become 400,
// everything else 500.
func (s *Server) fail(w http.ResponseWriter, op string, err error, kv ...any) {
	switch {
	case errors.Is(err, kdate.ErrInvalidDateText),
		errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, schedule.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		appLog.Error("api "+op+" failed", err, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
