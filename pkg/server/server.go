// Package server exposes skill routing over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillsmith/pkg/logger"
	"github.com/jingkaihe/skillsmith/pkg/router"
	"github.com/jingkaihe/skillsmith/pkg/skills"
	"github.com/jingkaihe/skillsmith/pkg/version"
)

// maxQueryBytes bounds the body of a routing request.
const maxQueryBytes = 64 << 10

// Config holds the listener settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Validate validates the server configuration
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("listen address cannot be empty")
	}
	return nil
}

// Server serves the routing API.
type Server struct {
	router  *mux.Router
	service *router.Service
	catalog *skills.Catalog
	config  Config
	server  *http.Server
}

// New creates a server routing queries through service.
func New(service *router.Service, config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router:  mux.NewRouter(),
		service: service,
		catalog: service.Catalog(),
		config:  config,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/route", s.handleRoute).Methods(http.MethodPost)
	api.HandleFunc("/skills", s.handleListSkills).Methods(http.MethodGet)
	api.HandleFunc("/skills/reload", s.handleReload).Methods(http.MethodPost)
	api.HandleFunc("/skills/{name}", s.handleGetSkill).Methods(http.MethodGet)
	api.HandleFunc("/skills/{name}/references/{path:.+}", s.handleGetReference).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router.Use(s.loggingMiddleware)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RouteRequest is the body of POST /api/route.
type RouteRequest struct {
	Query string `json:"query"`
}

// SkillSummary is the listing form of a skill.
type SkillSummary struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Regions     []string `json:"regions,omitempty"`
}

// RouteResponse is the body returned by POST /api/route.
type RouteResponse struct {
	router.Decision
	Candidates int            `json:"candidates"`
	Cached     bool           `json:"cached"`
	Selected   []SkillSummary `json:"selected"`
}

// SkillDetail is the body returned by GET /api/skills/{name}.
type SkillDetail struct {
	skills.Metadata
	Overview string `json:"overview"`
}

func summarize(s *skills.Skill) SkillSummary {
	return SkillSummary{
		Name:        s.Name,
		Title:       s.Title,
		Description: s.Description,
		Category:    s.Category,
		Tags:        s.Tags,
		Regions:     s.Regions(),
	}
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes)).Decode(&req); err != nil {
		s.writeErrorResponse(r.Context(), w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeErrorResponse(r.Context(), w, http.StatusBadRequest, "query is required", nil)
		return
	}

	sel, err := s.service.Select(r.Context(), req.Query)
	switch {
	case errors.Is(err, router.ErrNoCandidates):
		s.writeErrorResponse(r.Context(), w, http.StatusNotFound, "no skills available", nil)
		return
	case err != nil:
		s.writeErrorResponse(r.Context(), w, http.StatusInternalServerError, "failed to route query", err)
		return
	}

	resp := RouteResponse{
		Decision:   sel.Decision,
		Candidates: sel.Candidates,
		Cached:     sel.Cached,
		Selected:   make([]SkillSummary, 0, len(sel.Selected)),
	}
	for _, sk := range sel.Selected {
		resp.Selected = append(resp.Selected, summarize(sk))
	}
	s.writeJSONResponse(r.Context(), w, http.StatusOK, resp)
}

// handleListSkills handles GET /api/skills. Repeated "match" parameters
// filter skills by name glob.
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	idx := s.catalog.Index()
	if patterns := r.URL.Query()["match"]; len(patterns) > 0 {
		filtered, err := idx.Filter(patterns)
		if err != nil {
			s.writeErrorResponse(r.Context(), w, http.StatusBadRequest, "invalid match pattern", err)
			return
		}
		idx = filtered
	}

	out := make([]SkillSummary, 0, idx.Len())
	for _, sk := range idx.List() {
		out = append(out, summarize(sk))
	}
	s.writeJSONResponse(r.Context(), w, http.StatusOK, map[string]any{
		"skills":   out,
		"revision": idx.Revision(),
	})
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sk, ok := s.catalog.Index().Get(name)
	if !ok {
		s.writeErrorResponse(r.Context(), w, http.StatusNotFound, "skill not found", nil)
		return
	}
	s.writeJSONResponse(r.Context(), w, http.StatusOK, SkillDetail{Metadata: sk.Metadata, Overview: sk.Body})
}

func (s *Server) handleGetReference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sk, ok := s.catalog.Index().Get(vars["name"])
	if !ok {
		s.writeErrorResponse(r.Context(), w, http.StatusNotFound, "skill not found", nil)
		return
	}

	for _, ref := range sk.References {
		if ref.Path != vars["path"] {
			continue
		}
		content, err := sk.ReadReference(ref)
		if err != nil {
			s.writeErrorResponse(r.Context(), w, http.StatusInternalServerError, "failed to read reference", err)
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(content))
		return
	}
	s.writeErrorResponse(r.Context(), w, http.StatusNotFound, "reference not found", nil)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Reload(r.Context()); err != nil {
		s.writeErrorResponse(r.Context(), w, http.StatusInternalServerError, "failed to reload skills", err)
		return
	}
	idx := s.catalog.Index()
	s.writeJSONResponse(r.Context(), w, http.StatusOK, map[string]any{
		"skills":   idx.Len(),
		"revision": idx.Revision(),
		"warnings": len(idx.Warnings),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	idx := s.catalog.Index()
	s.writeJSONResponse(r.Context(), w, http.StatusOK, map[string]any{
		"status":   "ok",
		"skills":   idx.Len(),
		"revision": idx.Revision(),
		"version":  version.Get().Version,
	})
}

func (s *Server) writeJSONResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeErrorResponse(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logger.G(ctx).WithError(err).Error(message)
	}
	s.writeJSONResponse(ctx, w, status, map[string]any{
		"error":   message,
		"status":  status,
		"success": false,
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.G(ctx).WithField("addr", s.config.Addr).Info("routing API listening")

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
