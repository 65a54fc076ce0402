// Package api provides the REST API for estimating cardinalities, managing
// named sketches and querying the session dataset.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fidde/simple_hll/internal/aggregate"
	"github.com/fidde/simple_hll/internal/harness"
	"github.com/fidde/simple_hll/internal/registry"
	"github.com/fidde/simple_hll/internal/storage"
	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
	"github.com/fidde/simple_hll/pkg/models"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 16 << 20

// Config configures the API server.
type Config struct {
	Addr           string
	RequestTimeout time.Duration

	// DefaultPrecision applies when a request does not name one.
	DefaultPrecision uint8

	// Hasher applies when a request does not name one.
	Hasher hashing.Hasher

	// Harness configures GET /dataset/accuracy.
	Harness harness.Config
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		Addr:             "0.0.0.0:8080",
		RequestTimeout:   60 * time.Second,
		DefaultPrecision: 12,
		Hasher:           hashing.Default(),
		Harness:          harness.DefaultConfig(),
	}
}

// Server is the REST API server.
type Server struct {
	cfg      Config
	store    storage.Storage
	registry *registry.Registry
	logger   *slog.Logger
	router   *chi.Mux
	server   *http.Server
}

// PaginationParams contains pagination parameters from query string.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps a paginated response with metadata.
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// parsePaginationParams extracts pagination parameters from request.
// Defaults: limit=100, offset=0, max_limit=1000
func parsePaginationParams(r *http.Request) PaginationParams {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)

	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// paginateSlice applies pagination to a slice.
func paginateSlice[T any](items []T, params PaginationParams) PaginatedResponse {
	total := len(items)
	start := min(params.Offset, total)
	end := min(start+params.Limit, total)

	page := items[start:end]
	if page == nil {
		page = []T{}
	}

	return PaginatedResponse{
		Data:    page,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: end < total,
	}
}

// NewServer creates a new API server. store may be nil, in which case the
// dataset endpoints answer 503.
func NewServer(cfg Config, store storage.Storage, reg *registry.Registry, logger *slog.Logger) *Server {
	if cfg.Hasher == nil {
		cfg.Hasher = hashing.Default()
	}
	if cfg.DefaultPrecision == 0 {
		cfg.DefaultPrecision = DefaultConfig().DefaultPrecision
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if reg == nil {
		reg = registry.New(nil, logger)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: reg,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(cfg.RequestTimeout))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)

		// Stateless estimation
		r.Post("/hash", s.hashValues)
		r.Post("/cardinality", s.estimateCardinality)

		// Named sketches
		r.Get("/sketches", s.listSketches)
		r.Route("/sketches/{name}", func(r chi.Router) {
			r.Put("/", s.createSketch)
			r.Get("/", s.getSketch)
			r.Delete("/", s.deleteSketch)
			r.Post("/hashes", s.addHashes)
			r.Post("/values", s.addValues)
			r.Post("/merge/{source}", s.mergeSketch)
			r.Get("/export", s.exportSketch)
			r.Put("/import", s.importSketch)
			r.Post("/snapshot", s.snapshotSketch)
			r.Post("/restore", s.restoreSketch)
		})
		r.Get("/snapshots", s.listSnapshots)

		// Session dataset
		r.Get("/dataset/stats", s.datasetStats)
		r.Get("/dataset/cardinality", s.datasetCardinality)
		r.Get("/dataset/cardinality/by-date", s.datasetCardinalityByDate)
		r.Get("/dataset/accuracy", s.datasetAccuracy)

		// Admin endpoints
		r.Post("/admin/clear", s.clearAllData)
	})

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
	}

	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

// respondError writes an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondErr maps err to a status code and writes it.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrSnapshotNotFound):
		return http.StatusNotFound

	case errors.Is(err, models.ErrSketchExists):
		return http.StatusConflict

	case errors.Is(err, registry.ErrSnapshotsDisabled):
		return http.StatusNotImplemented

	case errors.Is(err, errNoStorage):
		return http.StatusServiceUnavailable

	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidName),
		errors.Is(err, models.ErrUnsupportedField),
		errors.Is(err, models.ErrInvalidBound),
		errors.Is(err, models.ErrSnapshotTooLarge),
		errors.Is(err, models.ErrTooManySnapshots),
		errors.Is(err, hyperloglog.ErrInvalidPrecision),
		errors.Is(err, hyperloglog.ErrInvalidHashBits),
		errors.Is(err, hyperloglog.ErrZeroHash),
		errors.Is(err, hyperloglog.ErrPrecisionMismatch),
		errors.Is(err, hyperloglog.ErrHashBitsMismatch),
		errors.Is(err, hyperloglog.ErrInvalidData),
		errors.Is(err, hashing.ErrNullValue),
		errors.Is(err, hashing.ErrUnsupportedType),
		errors.Is(err, hashing.ErrUnknownHasher),
		errors.Is(err, aggregate.ErrNotInteger):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest = errors.New("bad request")
	errNoStorage  = errors.New("dataset storage is not configured")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// valueError attaches the position of a rejected value. The cause keeps
// its own status mapping.
func valueError(index int, err error) error {
	return fmt.Errorf("value %d: %w", index, err)
}

// decodeJSON reads a JSON body into v. Numbers stay exact (json.Number) so
// large integers hash like their decimal text. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// resolveHasher picks the named hasher, or the server default.
func (s *Server) resolveHasher(name string) (hashing.Hasher, error) {
	if name == "" {
		return s.cfg.Hasher, nil
	}
	return hashing.ByName(name)
}

// resolvePrecision picks the requested precision, or the server default.
func (s *Server) resolvePrecision(p *uint8) uint8 {
	if p == nil {
		return s.cfg.DefaultPrecision
	}
	return *p
}

// clearAllData clears the session dataset.
// POST /api/v1/admin/clear
func (s *Server) clearAllData(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondErr(w, r, errNoStorage)
		return
	}

	if err := s.store.Clear(r.Context()); err != nil {
		s.respondErr(w, r, fmt.Errorf("clearing data: %w", err))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "All data cleared successfully",
	})
}
