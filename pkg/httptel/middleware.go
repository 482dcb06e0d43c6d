// Package httptel connects Echo servers and net/http clients to the
// telemetry runtime: inbound headers are extracted into the request
// context, each request runs inside a route span, and outbound requests
// carry the ambient trace context and baggage.
package httptel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otelkit/pkg/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/otelkit/pkg/httptel"

// Option configures the middleware and transport.
type Option func(*options)

type options struct {
	registry      *telemetry.Registry
	meterProvider metric.MeterProvider
	logger        *zap.Logger
}

func newOptions(opts []Option) *options {
	o := &options{
		registry: telemetry.DefaultRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	return o
}

// WithRegistry selects the registry used for propagation and spans.
func WithRegistry(r *telemetry.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithLogger sets the logger for instrument creation failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Middleware traces and measures Echo requests.
type Middleware struct {
	registry *telemetry.Registry
	logger   *zap.Logger

	meter          metric.Meter
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// New creates the middleware. Instruments that fail to register are logged
// and skipped.
func New(opts ...Option) *Middleware {
	o := newOptions(opts)
	m := &Middleware{
		registry: o.registry,
		logger:   o.logger,
		meter:    o.meterProvider.Meter(instrumentationName),
	}
	m.init()
	return m
}

func (m *Middleware) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"otelkit.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"otelkit.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"otelkit.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"otelkit.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// Handler returns the Echo middleware. Register it with e.Use so the matched
// route is known when it runs.
func (m *Middleware) Handler() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()
			req := c.Request()
			route := normalizePath(c.Path())

			ctx := m.registry.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, scope := m.registry.StartWithKind(ctx, trace.SpanKindServer, req.Method+" "+route,
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.HTTPRoute(route),
				semconv.URLPath(req.URL.Path),
			)
			defer scope.End(&err)

			c.SetRequest(req.WithContext(ctx))

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}
			// Registered after scope.End, so it runs first, and still runs when
			// next panics. A panicking request is counted as a 500.
			defer func() {
				status := responseStatus(c, err)
				if p := recover(); p != nil {
					status = http.StatusInternalServerError
					defer panic(p)
				}
				m.finish(ctx, scope, req.Method, route, status, err, start, c.Response().Size)
			}()

			err = next(c)
			return err
		}
	}
}

// finish records the outcome of one request on its span and instruments.
func (m *Middleware) finish(ctx context.Context, scope *telemetry.Scope, method, route string, status int, err error, start time.Time, size int64) {
	scope.SetAttribute(semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError && err == nil {
		scope.Span().SetStatus(codes.Error, http.StatusText(status))
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", route),
		attribute.Int("status", status),
	)
	if m.requestsTotal != nil {
		m.requestsTotal.Add(ctx, 1, attrs)
	}
	if m.requestDur != nil {
		m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if m.responseSize != nil {
		m.responseSize.Record(ctx, size, attrs)
	}
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1)
	}
}

// responseStatus returns the status the client will see. Echo writes the
// response for a returned error after the middleware chain unwinds.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// normalizePath keeps metric and span cardinality bounded. Echo reports the
// route template (/orders/:id), so only the unmatched case needs a value.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// Transport injects the ambient context into outbound requests and wraps
// each round trip in a client span.
type Transport struct {
	base     http.RoundTripper
	registry *telemetry.Registry
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, registry: newOptions(opts).registry}
}

// RoundTrip implements http.RoundTripper. The request is cloned before its
// headers are modified.
func (t *Transport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	ctx, scope := t.registry.StartWithKind(req.Context(), trace.SpanKindClient, "HTTP "+req.Method,
		semconv.HTTPRequestMethodKey.String(req.Method),
		semconv.ServerAddress(req.URL.Hostname()),
	)
	defer scope.End(&err)

	out := req.Clone(ctx)
	t.registry.Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err = t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	scope.SetAttribute(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		scope.Span().SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return resp, nil
}

// InjectHeaders writes the ambient context of req's context into its headers
// through the registry selected by opts. Use it when a custom client cannot
// take a Transport.
func InjectHeaders(req *http.Request, opts ...Option) {
	newOptions(opts).registry.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
}
