// Package http binds the OGC services to HTTP: key-value-pair requests on
// /csw, /wfs and /wcs, JSON responses and exception reports, plus health,
// metrics and admin endpoints.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jobrunner/owsgate/internal/adapters/metrics"
	"github.com/jobrunner/owsgate/internal/application"
	"github.com/jobrunner/owsgate/internal/config"
	"github.com/jobrunner/owsgate/internal/ports/input"
)

// Syncer triggers an on-demand seed synchronisation.
type Syncer interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// SeedLister lists the loaded seed files.
type SeedLister interface {
	Seeds() []application.SeedInfo
}

// Services are the application services served over HTTP.
type Services struct {
	Catalog     input.CatalogService
	Coverage    input.CoverageService // nil disables /wcs
	Health      input.HealthChecker
	Sync        Syncer             // nil disables /admin/sync
	Seeds       SeedLister         // nil disables /admin/seeds
	Metrics     *metrics.Collector // nil disables /metrics
	MetricsPath string
}

// Server routes HTTP requests to the application services.
type Server struct {
	router   *mux.Router
	catalog  input.CatalogService
	coverage input.CoverageService
	health   input.HealthChecker
	sync     Syncer
	seeds    SeedLister
	metrics  *metrics.Collector
	logger   *slog.Logger
	config   config.ServerConfig

	metricsPath string
}

// NewServer creates the HTTP handler tree.
func NewServer(cfg config.ServerConfig, svc Services, logger *slog.Logger) *Server {
	s := &Server{
		catalog:     svc.Catalog,
		coverage:    svc.Coverage,
		health:      svc.Health,
		sync:        svc.Sync,
		seeds:       svc.Seeds,
		metrics:     svc.Metrics,
		logger:      logger,
		config:      cfg,
		metricsPath: svc.MetricsPath,
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}

	s.router = s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// OGC services
	r.HandleFunc("/csw", s.handleCSW).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.HandleFunc("/wfs", s.handleWFS).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	if s.coverage != nil {
		r.HandleFunc("/wcs", s.handleWCS).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	}

	// Admin endpoints
	admin := r.PathPrefix("/admin").Subrouter()
	if s.sync != nil {
		admin.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}
	if s.seeds != nil {
		admin.HandleFunc("/seeds", s.handleSeeds).Methods(http.MethodGet)
	}

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// serviceURL returns the public endpoint of a service path.
func (s *Server) serviceURL(path string) string {
	return s.config.PublicURL() + path
}

type requestIDKey struct{}

// requestID returns the id assigned to the request, if any.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware propagates X-Request-ID, generating one when absent.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", requestID(r.Context()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
