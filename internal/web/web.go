package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"icalsync/internal/config"
	"icalsync/internal/importer"
	appLog "icalsync/internal/log"
	"icalsync/internal/model"
	"icalsync/internal/store"
)

// Server provides the HTTP API: configuration management, run history and
// dry-run previews.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	loader importer.FeedLoader
	mux    *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, loader importer.FeedLoader) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		loader: loader,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
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
	// An empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icalsync", charset="UTF-8"`)
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

// StartServer starts an HTTP server bound to cfg.Listen. Graceful shutdown
// is handled by main wrapping this in an http.Server.
func StartServer(_ context.Context, cfg *config.Config, st *store.Store, loader importer.FeedLoader) error {
	s := NewServer(cfg, st, loader)
	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	return http.ListenAndServe(cfg.Listen, s.Handler())
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/configurations", s.handleListConfigurations)
	s.mux.HandleFunc("POST /api/configurations", s.handleCreateConfiguration)
	s.mux.HandleFunc("GET /api/configurations/{id}", s.handleGetConfiguration)
	s.mux.HandleFunc("PUT /api/configurations/{id}", s.handleUpdateConfiguration)
	s.mux.HandleFunc("DELETE /api/configurations/{id}", s.handleDeleteConfiguration)
	s.mux.HandleFunc("GET /api/configurations/{id}/runs", s.handleListRuns)
	s.mux.HandleFunc("POST /api/configurations/{id}/preview", s.handlePreview)

	s.mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	configurations, err := s.store.ListConfigurations(r.Context())
	if err != nil {
		appLog.Error("list configurations failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list configurations")
		return
	}
	writeJSON(w, http.StatusOK, configurations)
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeConfiguration(w, r)
	if !ok {
		return
	}

	if err := s.store.CreateConfiguration(r.Context(), cfg); err != nil {
		appLog.Error("create configuration failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create configuration")
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	cfg, err := s.store.GetConfiguration(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	if err != nil {
		appLog.Error("get configuration failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load configuration")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cfg, ok := decodeConfiguration(w, r)
	if !ok {
		return
	}
	cfg.ID = id

	err := s.store.UpdateConfiguration(r.Context(), cfg)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	if err != nil {
		appLog.Error("update configuration failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to update configuration")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := s.store.DeleteConfiguration(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	if err != nil {
		appLog.Error("delete configuration failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete configuration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	runs, err := s.store.ListRuns(r.Context(), id, limit)
	if err != nil {
		appLog.Error("list runs failed", err, "configuration_id", id)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		appLog.Error("get run failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handlePreview runs a dry pass over the configuration's feed and returns
// the resulting run, unsaved. Dry passes make no directory calls and leave
// correlation records untouched, so no directory client is needed.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	cfg, err := s.store.GetConfiguration(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	if err != nil {
		appLog.Error("preview: load configuration failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load configuration")
		return
	}

	records, err := s.store.Correlations(ctx, id)
	if err != nil {
		appLog.Error("preview: load correlations failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load correlations")
		return
	}

	imp := importer.New(s.loader, nil, true)
	result := imp.Perform(ctx, cfg, records)
	writeJSON(w, http.StatusOK, result.Run)
}

// decodeConfiguration reads a configuration from the request body, filling
// default templates for any mapped field the caller omitted.
func decodeConfiguration(w http.ResponseWriter, r *http.Request) (*model.Configuration, bool) {
	var cfg model.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if cfg.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return nil, false
	}
	if cfg.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return nil, false
	}
	if cfg.IdentifierTag == "" {
		writeError(w, http.StatusBadRequest, "identifier_tag is required")
		return nil, false
	}

	if cfg.Templates == nil {
		cfg.Templates = make(map[string]string, len(model.MapperKeys))
	}
	for _, key := range model.MapperKeys {
		if _, has := cfg.Templates[key]; !has {
			cfg.Templates[key] = model.DefaultTemplate(key)
		}
	}
	return &cfg, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
