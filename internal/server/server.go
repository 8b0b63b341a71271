// Package server exposes the registry over HTTP with a chi router. Every
// response is the same JSON envelope the management layer produces, so
// programmatic callers see one shape regardless of transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/export"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
	"github.com/szqshan/DataMaster-MCP/internal/registry"
)

// Server serves the management and query API for one Registry.
type Server struct {
	registry *registry.Registry
	exporter *export.Exporter
	log      *logger.Logger
	router   chi.Router
}

// New builds a Server. exporter may be nil when no object store is
// configured; the export endpoint then reports it as unavailable.
func New(reg *registry.Registry, exporter *export.Exporter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{registry: reg, exporter: exporter, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/drivers", s.handleDrivers)
		r.Post("/connect", s.handleConnect)
		r.Post("/query", s.handleQuery)

		r.Route("/databases", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleAdd)
			r.Post("/reload", s.handleReload)
			r.Get("/temp", s.handleListTemp)
			r.Delete("/temp", s.handleCleanupTemp)
			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", s.handleRemove)
				r.Post("/test", s.handleTest)
				r.Get("/tables", s.handleTables)
				r.Post("/export", s.handleExport)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"drivers": s.registry.Drivers().All()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "list", nil))
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string         `json:"name"`
		Config map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}
	s.writeResponse(w, s.registry.Manage(r.Context(), "add", map[string]any{
		"name":   body.Name,
		"config": body.Config,
	}))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "remove", map[string]any{
		"name": chi.URLParam(r, "name"),
	}))
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "test", map[string]any{
		"name": chi.URLParam(r, "name"),
	}))
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "tables", map[string]any{
		"name": chi.URLParam(r, "name"),
	}))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "reload", nil))
}

func (s *Server) handleListTemp(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "list_temp", nil))
}

func (s *Server) handleCleanupTemp(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.registry.Manage(r.Context(), "cleanup_temp", nil))
}

// handleConnect registers a temporary config and probes it in one call.
// A failed probe removes the config before the error is returned.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var cfg config.DatabaseConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}

	name, err := s.registry.CreateTemporary(cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	message, err := s.registry.ValidateOrCleanup(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"name": name, "message": message},
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Database string `json:"database"`
		Query    string `json:"query"`
		Params   []any  `json:"params"`
		Limit    int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}

	result := s.registry.Query(r.Context(), body.Database, body.Query, body.Params, body.Limit)
	status := http.StatusOK
	if !result.Success {
		status = statusForKind(result.ErrorKind)
	}
	writeJSON(w, status, result)
}

// handleExport runs a query and uploads the result to object storage.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		s.writeError(w, errs.New(errs.ErrKindConfigInvalid, "export storage is not configured"))
		return
	}

	name := chi.URLParam(r, "name")
	var body struct {
		Query string `json:"query"`
		Key   string `json:"key"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}

	result := s.registry.Query(r.Context(), name, body.Query, nil, body.Limit)
	if !result.Success {
		writeJSON(w, statusForKind(result.ErrorKind), result)
		return
	}

	key, err := s.exporter.Store(r.Context(), name, body.Key, result)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"key": key, "row_count": result.RowCount},
	})
}

// --- response helpers ---

func (s *Server) writeResponse(w http.ResponseWriter, resp *registry.Response) {
	status := http.StatusOK
	if !resp.Success {
		if kind, ok := resp.Metadata["error_kind"].(string); ok {
			status = statusForKind(kind)
		} else {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.ErrKindUnknown
	var e *errs.Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	writeJSON(w, statusForKind(kind.String()), map[string]any{
		"success":    false,
		"error":      err.Error(),
		"error_kind": kind.String(),
	})
}

func statusForKind(kind string) int {
	switch kind {
	case errs.ErrKindConfigNotFound.String(), errs.ErrKindNotFound.String():
		return http.StatusNotFound
	case errs.ErrKindConfigInvalid.String(), errs.ErrKindInvalidInput.String(),
		errs.ErrKindQuerySyntax.String():
		return http.StatusBadRequest
	case errs.ErrKindSecurityViolation.String():
		return http.StatusForbidden
	case errs.ErrKindTimeout.String():
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectFailed.String(), errs.ErrKindDriverUnavailable.String():
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves the API on addr until ctx is canceled, then shuts down
// gracefully with a short drain window.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
