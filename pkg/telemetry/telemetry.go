package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otelkit/internal/config"
	"github.com/fyrsmithlabs/otelkit/internal/logging"
)

// Telemetry is an installed pipeline. It owns the providers it built; a
// later Init replaces it as the active pipeline but does not shut it down.
//
// Telemetry failures never reach application code. Export errors are logged
// and mark the instance degraded.
type Telemetry struct {
	config   *Config
	set      *ProviderSet
	registry *Registry
	logger   *logging.Logger
	diag     *logging.Logger

	healthy  atomic.Bool
	degraded atomic.Bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Init validates cfg, builds the pipeline and installs it as the process-wide
// active one. Any configuration problem is returned as a ConfigError before
// anything is installed.
//
// Calling Init again replaces the active pipeline; providers never
// accumulate. Shut down the previous Telemetry to flush what it buffered.
//
//	tel, err := telemetry.Init(ctx, telemetry.NewDefaultConfig("checkout"),
//	    telemetry.WithSpanExporters(exporter))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
func Init(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		return nil, ConfigError{Field: "config", Reason: "is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	if logCfg == nil {
		logCfg = logging.NewDefaultConfig()
	}

	diag, err := newDiagnosticsLogger(logCfg)
	if err != nil {
		return nil, ConfigError{Field: "logging", Reason: "diagnostics logger", Cause: err}
	}

	opts = append([]Option{withDiagnostics(diag)}, opts...)
	set, err := Build(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logCfg, set.LoggerProvider)
	if err != nil {
		_ = set.Shutdown(ctx)
		return nil, ConfigError{Field: "logging", Reason: "logger", Cause: err}
	}

	t := &Telemetry{
		config:   cfg,
		set:      set,
		registry: newBuildOptions(opts).registry,
		logger:   logger.Named("telemetry"),
		diag:     diag,
	}
	t.healthy.Store(true)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(t.handleError))
	t.registry.Install(set)

	fields := []zap.Field{
		zap.String("service", cfg.ServiceName),
		zap.Bool("endpoint", cfg.Endpoint != ""),
		zap.Int("span_processors", len(set.SpanProcessors)),
		zap.String("baggage", string(set.BaggagePolicy.Mode)),
	}
	t.diag.Debug(ctx, "telemetry installed", append(fields, headerFields(cfg.Headers)...)...)
	return t, nil
}

// headerFields logs exporter headers by name and length only.
func headerFields(headers map[string]config.Secret) []zap.Field {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]zap.Field, len(names))
	for i, k := range names {
		fields[i] = logging.Secret("header."+k, headers[k])
	}
	return fields
}

// newDiagnosticsLogger logs telemetry-layer problems to stdout only, so a
// failing log exporter cannot feed its own errors back into the pipeline.
func newDiagnosticsLogger(cfg *logging.Config) (*logging.Logger, error) {
	if !cfg.Output.Stdout {
		return logging.NewNop(), nil
	}
	diagCfg := *cfg
	diagCfg.Output.OTEL = false
	logger, err := logging.NewLogger(&diagCfg, nil)
	if err != nil {
		return nil, err
	}
	return logger.Named("otel"), nil
}

// handleError receives everything passed to otel.Handle while this pipeline
// is active.
func (t *Telemetry) handleError(err error) {
	var exportErr ExportError
	if errors.As(err, &exportErr) {
		t.degraded.Store(true)
		t.diag.Warn(context.Background(), "telemetry export failed",
			zap.String("exporter", exportErr.Exporter),
			zap.String("signal", exportErr.Signal),
			zap.Error(exportErr.Cause),
		)
		return
	}
	t.diag.Warn(context.Background(), "telemetry error", zap.Error(err))
}

// Tracer returns a tracer from this pipeline's provider. Unlike the
// package-level Tracer it ignores the isolated provider.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.set == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.set.TracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.set == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.set.MeterProvider.Meter(name, opts...)
}

// Logger returns the zap logger bridged to this pipeline's log provider.
func (t *Telemetry) Logger() *logging.Logger {
	if t == nil || t.logger == nil {
		return logging.NewNop()
	}
	return t.logger
}

// LoggerProvider returns the log provider for additional bridges.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.set == nil {
		return nil
	}
	return t.set.LoggerProvider
}

// Providers returns the built provider set.
func (t *Telemetry) Providers() *ProviderSet {
	if t == nil {
		return nil
	}
	return t.set
}

// PrometheusHandler serves the Prometheus scrape endpoint, or returns nil
// when metrics.prometheus is off.
func (t *Telemetry) PrometheusHandler() http.Handler {
	if t == nil || t.set == nil || t.set.Prometheus == nil {
		return nil
	}
	return promhttp.HandlerFor(t.set.Prometheus, promhttp.HandlerOpts{})
}

// ForceFlush exports everything buffered, waiting at most timeout. It
// returns false when the deadline passed or a provider failed; the cause is
// logged, never returned.
func (t *Telemetry) ForceFlush(ctx context.Context, timeout time.Duration) bool {
	if t == nil || t.set == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := t.set.ForceFlush(ctx)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		t.diag.Warn(ctx, "telemetry flush incomplete",
			zap.Duration("timeout", timeout),
			zap.Error(fmt.Errorf("%w: %v", ErrFlushTimeout, context.Cause(ctx))),
		)
		return false
	case err != nil:
		t.diag.Warn(ctx, "telemetry flush failed", zap.Error(err))
		return false
	}
	return true
}

// Shutdown flushes and stops every provider of this pipeline. Without a
// deadline on ctx the configured shutdown timeout applies. Later calls
// return the first result.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.set == nil {
		return nil
	}

	t.shutdownOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok && t.config != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
			defer cancel()
		}

		t.shutdownErr = t.set.Shutdown(ctx)
		_ = t.logger.Sync()
		t.healthy.Store(false)
	})
	return t.shutdownErr
}

// HealthStatus reports the state of a Telemetry instance.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health returns the current telemetry health status. Healthy is false after
// Shutdown; Degraded is true once any export has failed.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
}
