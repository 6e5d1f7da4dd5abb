package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadingQuerier returns stored readings, newest first.
type ReadingQuerier interface {
	Query(ctx context.Context, q domain.ReadingQuery) ([]domain.Reading, error)
}

// ThresholdWriter stores alert thresholds. An empty serial sets the global threshold.
type ThresholdWriter interface {
	SetThreshold(ctx context.Context, serial string, ppm float64) error
}

// Deps are the collaborators behind the HTTP surface. Nil optional fields
// leave their routes unregistered.
type Deps struct {
	Ready      sharedobs.ReadinessChecker
	Readings   ReadingQuerier
	Thresholds ThresholdWriter
	// Invalidate is called after a threshold changes.
	Invalidate func()
	// Live serves the websocket feed.
	Live http.Handler
	// AllowedOrigins for the browser API; empty allows any origin.
	AllowedOrigins []string
}

// Server exposes health, readiness, metrics, the readings API and the live feed.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, /api and /ws routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			IdleTimeout:       60 * time.Second,
			// No WriteTimeout: websocket connections are long-lived.
		},
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	api := &apiHandler{
		readings:   deps.Readings,
		thresholds: deps.Thresholds,
		invalidate: deps.Invalidate,
		logger:     logger,
	}
	if deps.Readings != nil || deps.Thresholds != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(cors(deps.AllowedOrigins))
			r.Use(middleware.Timeout(10 * time.Second))
			if deps.Readings != nil {
				r.Get("/readings", api.listReadings)
			}
			if deps.Thresholds != nil {
				r.Put("/thresholds", api.putThreshold)
				r.Put("/thresholds/{serial}", api.putThreshold)
			}
		})
	}

	if deps.Live != nil {
		r.Handle("/ws", deps.Live)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func cors(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// AllReady combines readiness checks; the first failure wins.
func AllReady(checks ...sharedobs.ReadinessChecker) sharedobs.ReadinessChecker {
	return readinessChecks(checks)
}

type readinessChecks []sharedobs.ReadinessChecker

func (c readinessChecks) CheckReadiness(ctx context.Context) error {
	for _, check := range c {
		if check == nil {
			continue
		}
		if err := check.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
