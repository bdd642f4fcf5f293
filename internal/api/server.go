package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatwarmer/internal/catalog"
	"chatwarmer/internal/config"
	"chatwarmer/internal/directory"
	"chatwarmer/internal/eventbus"
	"chatwarmer/internal/quota"
	"chatwarmer/internal/runtime/supervisor"
	"chatwarmer/internal/storage"
	"chatwarmer/internal/transport"
	"chatwarmer/internal/warmer"
	logx "chatwarmer/pkg/logx"
)

// Deps are the collaborators the HTTP layer exposes. History, Quota and
// Metrics may be nil; the matching endpoints then report unavailable.
type Deps struct {
	Config    *config.Manager
	Directory *directory.Directory
	Catalog   *catalog.Catalog
	Warmer    *warmer.Service
	Transport *transport.Manager
	History   storage.Store
	Quota     *quota.Service
	Bus       eventbus.Bus
	Metrics   http.Handler
	Log       logx.Logger

	// Runtime reports supervised goroutine counts for the health endpoint.
	// Optional; nil omits the field.
	Runtime func() supervisor.Counters
}

// Server is the operator-facing HTTP API.
type Server struct {
	addr   string
	deps   Deps
	log    logx.Logger
	router *chi.Mux
	server *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	s := &Server{
		addr:   addr,
		deps:   deps,
		log:    deps.Log.With(logx.String("svc", "api")),
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	s.router.Mount("/debug", middleware.Profiler())

	// The event stream must not run under the request timeout.
	s.router.Get("/api/events", s.handleEvents)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Get("/export", s.handleExportAccounts)
			r.Post("/import", s.handleImportAccounts)
			r.Get("/{id}", s.handleGetAccount)
			r.Patch("/{id}", s.handleUpdateAccount)
			r.Delete("/{id}", s.handleDeleteAccount)
			r.Post("/{id}/connect", s.handleConnectAccount)
			r.Post("/{id}/disconnect", s.handleDisconnectAccount)
		})

		r.Route("/api/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/stats", s.handleTemplateStats)
			r.Get("/{id}", s.handleGetTemplate)
			r.Patch("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
		})

		r.Route("/api/warmer", func(r chi.Router) {
			r.Post("/start", s.handleWarmerStart)
			r.Post("/stop", s.handleWarmerStop)
			r.Get("/status", s.handleWarmerStatus)
		})

		r.Get("/api/config", s.handleGetConfig)
		r.Put("/api/config", s.handlePutConfig)
		r.Get("/api/history", s.handleHistory)
		r.Get("/api/quota", s.handleQuota)
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http api listening", logx.String("addr", s.addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

// Response is the uniform API envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) ok(w http.ResponseWriter, code int, data any) {
	s.writeJSON(w, code, Response{Success: true, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, Response{Success: false, Error: msg})
}

// failErr maps domain errors onto HTTP status codes.
func (s *Server) failErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, transport.ErrUnknownAccount):
		s.fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, warmer.ErrAlreadyActive),
		errors.Is(err, warmer.ErrNotActive),
		errors.Is(err, warmer.ErrInsufficientAccounts),
		errors.Is(err, directory.ErrDuplicateAddress),
		errors.Is(err, catalog.ErrDuplicateName):
		s.fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrInvalidAddress),
		errors.Is(err, catalog.ErrInactive),
		errors.Is(err, catalog.ErrNoActiveTemplates):
		s.fail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, transport.ErrNotConnected):
		s.fail(w, http.StatusConflict, err.Error())
	default:
		s.fail(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Runtime != nil {
		body["goroutines"] = s.deps.Runtime()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
