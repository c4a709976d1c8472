// Package api provides the HTTP surface of the synchronization service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labelous/labelsync/internal/annotation"
	"github.com/labelous/labelsync/internal/conf"
	"github.com/labelous/labelsync/internal/datastore"
	"github.com/labelous/labelsync/internal/logging"
	"github.com/labelous/labelsync/internal/observability"
)

// Server is the HTTP server for the annotation synchronization service.
// It owns the Echo instance, middleware and route registration.
type Server struct {
	echo     *echo.Echo
	settings *conf.Settings
	log      *slog.Logger

	dataStore datastore.Interface
	identity  IdentityProvider
	metrics   *observability.Metrics

	controller *Controller
	logCloser  func() error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithIdentityProvider overrides how callers are resolved to annotators.
func WithIdentityProvider(provider IdentityProvider) ServerOption {
	return func(s *Server) {
		s.identity = provider
	}
}

// WithMetrics supplies a pre-built metric set, mainly for tests.
func WithMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// New creates the server with all routes and middleware registered.
func New(settings *conf.Settings, dataStore datastore.Interface, opts ...ServerOption) (*Server, error) {
	s := &Server{
		echo:      echo.New(),
		settings:  settings,
		log:       logging.ForService("api"),
		dataStore: dataStore,
		identity:  &HeaderIdentity{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		metrics, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		s.metrics = metrics
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.configureMiddleware()

	subjects := s.buildSubjectResolver()
	s.controller = NewController(s.settings, s.dataStore, subjects, s.identity, s.metrics)
	s.controller.RegisterRoutes(s.echo.Group("/api/v1"))

	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	return s, nil
}

// buildSubjectResolver wires the datastore-backed subject lookup,
// wrapped in a TTL cache when one is configured.
func (s *Server) buildSubjectResolver() annotation.SubjectResolver {
	var resolver annotation.SubjectResolver = &annotation.StoreSubjects{Store: s.dataStore}
	if ttl := s.settings.Sync.SubjectCacheTTL; ttl > 0 {
		resolver = annotation.NewCachedSubjects(resolver, time.Duration(ttl)*time.Second)
	}
	return resolver
}

// configureMiddleware sets up recovery, request IDs, the request body
// size cap and structured request logging.
func (s *Server) configureMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	// The parser's contract assumes the body size cap is enforced
	// before the bytes reach it.
	s.echo.Use(echomw.BodyLimit(s.settings.WebServer.MaxBodySize))

	requestLog := s.log
	var closer func() error
	if s.settings.WebServer.Log.Enabled {
		fileLog, closeLog := logging.NewFileLogger(s.settings.WebServer.Log.Path, slog.LevelInfo)
		requestLog = fileLog.With("service", "api")
		closer = closeLog
	}
	s.logCloser = closer

	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			requestLog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID)
			return nil
		},
	}))
}

// Start begins serving and blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	addr := ":" + s.settings.WebServer.Port
	s.log.Info("starting HTTP server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if s.logCloser != nil {
		if closeErr := s.logCloser(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
