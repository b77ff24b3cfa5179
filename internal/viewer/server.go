// Package viewer serves stored collection reports over HTTP.
package viewer

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"

	"github.com/lincot/metaplex-collection-scraper/internal/aggregate"
	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/report"
)

const (
	// maxSelectionSize is the maximum selection request body in bytes.
	maxSelectionSize = 1 << 20 // 1 MB
)

// Store reads stored reports.
type Store interface {
	List() ([]string, error)
	Load(name string) (*aggregate.Report, error)
}

// Server is the report viewer HTTP server.
type Server struct {
	addr    string       // addr is the HTTP listen address
	store   Store        // store holds the reports
	origins []string     // origins are the CORS allowed origins
	server  *http.Server // server is the underlying HTTP server
}

// New creates a viewer server. Empty origins allow any origin.
func New(addr string, store Store, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{addr: addr, store: store, origins: origins}
}

// Handler returns the router serving every viewer endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", s.handleList)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleReport)
			r.Get("/traits/{trait}", s.handleTrait)
			r.Post("/selection", s.handleSelection)
		})
	})

	return r
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("viewer started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleList handles GET /collections requests.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		logger.Error("list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	if names == nil {
		names = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collections": names,
	})
}

// handleReport handles GET /collections/{name} requests.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// handleTrait handles GET /collections/{name}/traits/{trait} requests.
func (s *Server) handleTrait(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r)
	if !ok {
		return
	}

	trait := chi.URLParam(r, "trait")

	h, ok := histogram(rep, trait)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown trait "+trait)
		return
	}

	writeJSON(w, http.StatusOK, h)
}

// handleSelection handles POST /collections/{name}/selection requests.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.load(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSelectionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req selectionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	mints := selectMints(rep, req.Filters)

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(mints),
		"mints": mints,
	})
}

// load reads the report named in the URL, writing the error response on failure.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*aggregate.Report, bool) {
	name := chi.URLParam(r, "name")
	if report.ValidName(name) != nil {
		writeError(w, http.StatusBadRequest, "invalid collection name")
		return nil, false
	}

	rep, err := s.store.Load(name)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "collection not found")
		return nil, false
	}
	if err != nil {
		logger.Error("load report", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return nil, false
	}

	return rep, true
}

// requestLogging logs every request with its status and duration.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.Timed(start),
		)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
