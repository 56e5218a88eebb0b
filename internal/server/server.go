// Package server exposes detection, validation and dispatch control as a
// small JSON API. Sessions live in memory only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
	"github.com/KaramelBytes/admisi-cli/internal/detect"
	"github.com/KaramelBytes/admisi-cli/internal/dispatch"
	"github.com/KaramelBytes/admisi-cli/internal/logging"
)

// DefaultMaxUpload caps multipart uploads when Config leaves it unset.
const DefaultMaxUpload = 10 << 20

type Config struct {
	Catalog        *catalog.Catalog
	Mode           detect.Mode
	MaxUploadBytes int64
	Sender         dispatch.Sender
	DispatchDelay  time.Duration
}

type Server struct {
	cfg      Config
	detector *detect.Detector
	router   *chi.Mux
	server   *http.Server

	// runCtx outlives individual requests so batches keep going after the
	// start call returns; Shutdown cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) *Server {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUpload
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		detector:  detect.New(cfg.Catalog, detect.WithMode(cfg.Mode)),
		router:    chi.NewRouter(),
		runCtx:    ctx,
		cancelRun: cancel,
		sessions:  make(map[string]*session),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Put("/mappings", s.handleRemap)
			r.Post("/confirm", s.handleConfirm)
			r.Put("/selection", s.handleSelect)

			r.Get("/dispatch", s.handleDispatchStatus)
			r.Post("/dispatch/start", s.handleDispatchStart)
			r.Post("/dispatch/pause", s.handleDispatchPause)
			r.Post("/dispatch/resume", s.handleDispatchResume)
			r.Post("/dispatch/reset", s.handleDispatchReset)
		})
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	slog.Info("control API listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and cancels running batches.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := logging.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "status", status, "error", err)
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// requestLogger logs one line per request through slog with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		)
	})
}

var errSessionNotFound = errors.New("session not found")
