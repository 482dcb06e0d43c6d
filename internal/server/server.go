// Package server provides the otelkit diagnostics HTTP server: health, the
// Prometheus scrape endpoint and an echo of the propagated request context.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otelkit/internal/logging"
	"github.com/fyrsmithlabs/otelkit/pkg/httptel"
	"github.com/fyrsmithlabs/otelkit/pkg/telemetry"
)

// Server provides HTTP endpoints for an installed telemetry pipeline.
type Server struct {
	echo   *echo.Echo
	tel    *telemetry.Telemetry
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Registry is the registry requests are traced through. Nil means the
	// default registry.
	Registry *telemetry.Registry
}

// NewServer creates a new HTTP server.
func NewServer(tel *telemetry.Telemetry, cfg *Config) (*Server, error) {
	if tel == nil {
		return nil, fmt.Errorf("telemetry cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9464,
		}
	}
	logger := tel.Logger().Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	mwOpts := []httptel.Option{httptel.WithLogger(logger.Underlying())}
	if cfg.Registry != nil {
		mwOpts = append(mwOpts, httptel.WithRegistry(cfg.Registry))
	}
	if set := tel.Providers(); set != nil {
		mwOpts = append(mwOpts, httptel.WithMeterProvider(set.MeterProvider))
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(httptel.New(mwOpts...).Handler())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		tel:    tel,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	if h := s.tel.PrometheusHandler(); h != nil {
		s.echo.GET("/metrics", echo.WrapHandler(h))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/context", s.handleContext)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ContextResponse is the response body for GET /api/v1/context.
type ContextResponse struct {
	TraceID string            `json:"trace_id"`
	SpanID  string            `json:"span_id"`
	Sampled bool              `json:"sampled"`
	Baggage map[string]string `json:"baggage"`
}

// handleHealth reports "ok", "degraded" after an export failure, or 503
// once the pipeline is shut down.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.tel.Health()
	switch {
	case !h.Healthy:
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "down"})
	case h.Degraded:
		return c.JSON(http.StatusOK, HealthResponse{Status: "degraded"})
	default:
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	}
}

// handleContext returns the trace identity and baggage the request carried,
// as seen from inside the request span.
func (s *Server) handleContext(c echo.Context) error {
	snap := telemetry.CurrentContext(c.Request().Context())
	resp := ContextResponse{
		TraceID: snap.SpanContext.TraceID().String(),
		SpanID:  snap.SpanContext.SpanID().String(),
		Sampled: snap.SpanContext.IsSampled(),
		Baggage: snap.Baggage,
	}
	if resp.Baggage == nil {
		resp.Baggage = map[string]string{}
	}
	return c.JSON(http.StatusOK, resp)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
