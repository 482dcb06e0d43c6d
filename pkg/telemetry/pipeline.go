package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/otelkit/internal/logging"
)

// ProviderSet is one built pipeline: the three SDK providers plus what
// propagation and span creation need to agree on.
type ProviderSet struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Resource       *resource.Resource
	Propagator     propagation.TextMapPropagator
	BaggagePolicy  BaggagePolicy

	// Prometheus is the registry behind the Prometheus reader, or nil when
	// metrics.prometheus is off.
	Prometheus *prometheus.Registry

	// SpanProcessors is the normalized processor sequence, in pipeline order.
	SpanProcessors []sdktrace.SpanProcessor
}

// ForceFlush flushes the three providers concurrently.
func (s *ProviderSet) ForceFlush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.TracerProvider.ForceFlush(gctx); err != nil {
			return fmt.Errorf("tracer provider: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.MeterProvider.ForceFlush(gctx); err != nil {
			return fmt.Errorf("meter provider: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.LoggerProvider.ForceFlush(gctx); err != nil {
			return fmt.Errorf("logger provider: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Shutdown shuts down all three providers. Every provider is attempted even
// when another fails; the errors are joined.
func (s *ProviderSet) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	errs := make([]error, 3)
	g.Go(func() error {
		if err := s.TracerProvider.Shutdown(ctx); err != nil {
			errs[0] = fmt.Errorf("tracer provider shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.MeterProvider.Shutdown(ctx); err != nil {
			errs[1] = fmt.Errorf("meter provider shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.LoggerProvider.Shutdown(ctx); err != nil {
			errs[2] = fmt.Errorf("logger provider shutdown: %w", err)
		}
		return nil
	})
	_ = g.Wait()
	return errors.Join(errs...)
}

// Option configures Build and Init.
type Option func(*buildOptions)

type buildOptions struct {
	spanProcessors []sdktrace.SpanProcessor
	spanExporters  []sdktrace.SpanExporter
	metricReaders  []sdkmetric.Reader
	logProcessors  []sdklog.Processor
	console        io.Writer
	registry       *Registry
	diag           *logging.Logger
}

func newBuildOptions(opts []Option) *buildOptions {
	o := &buildOptions{
		console:  os.Stdout,
		registry: defaultRegistry,
		diag:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSpanProcessor appends one span processor. It is equivalent to
// WithSpanProcessors with a single element.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return WithSpanProcessors(p)
}

// WithSpanProcessors appends span processors, used verbatim and in order.
// When any processor is given, span exporters are ignored.
func WithSpanProcessors(ps ...sdktrace.SpanProcessor) Option {
	return func(o *buildOptions) {
		o.spanProcessors = append(o.spanProcessors, ps...)
	}
}

// WithSpanExporters appends span exporters. Each one gets its own processor:
// batching when batch_timeout is at least 1ms, simple otherwise.
func WithSpanExporters(es ...sdktrace.SpanExporter) Option {
	return func(o *buildOptions) {
		o.spanExporters = append(o.spanExporters, es...)
	}
}

// WithMetricReaders appends metric readers, replacing the default reader.
func WithMetricReaders(rs ...sdkmetric.Reader) Option {
	return func(o *buildOptions) {
		o.metricReaders = append(o.metricReaders, rs...)
	}
}

// WithLogProcessors appends log record processors, replacing the default.
func WithLogProcessors(ps ...sdklog.Processor) Option {
	return func(o *buildOptions) {
		o.logProcessors = append(o.logProcessors, ps...)
	}
}

// WithConsoleWriter redirects console exporters (Config.Console) away from
// stdout.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *buildOptions) {
		o.console = w
	}
}

// WithRegistry makes Init install into r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(o *buildOptions) {
		o.registry = r
	}
}

func withDiagnostics(l *logging.Logger) Option {
	return func(o *buildOptions) {
		o.diag = l
	}
}

// validate reports nil elements, the typed form of a list mixing element
// kinds the pipeline cannot use.
func (o *buildOptions) validate() error {
	for i, p := range o.spanProcessors {
		if p == nil {
			return ConfigError{Field: "span_processors", Reason: fmt.Sprintf("element %d is nil", i)}
		}
	}
	for i, e := range o.spanExporters {
		if e == nil {
			return ConfigError{Field: "span_exporters", Reason: fmt.Sprintf("element %d is nil", i)}
		}
	}
	for i, r := range o.metricReaders {
		if r == nil {
			return ConfigError{Field: "metric_readers", Reason: fmt.Sprintf("element %d is nil", i)}
		}
	}
	for i, p := range o.logProcessors {
		if p == nil {
			return ConfigError{Field: "log_processors", Reason: fmt.Sprintf("element %d is nil", i)}
		}
	}
	if o.console == nil {
		return ConfigError{Field: "console", Reason: "writer is nil"}
	}
	if o.registry == nil {
		return ConfigError{Field: "registry", Reason: "is nil"}
	}
	return nil
}

// Build assembles a ProviderSet from cfg without installing it. Apart from
// constructing SDK objects it has no side effects. On error, anything Build
// created for the attempt is shut down and nothing is returned.
func Build(ctx context.Context, cfg *Config, opts ...Option) (*ProviderSet, error) {
	if cfg == nil {
		return nil, ConfigError{Field: "config", Reason: "is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := newBuildOptions(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	b := &builder{cfg: cfg, opts: o}
	set, err := b.build(ctx, res)
	if err != nil {
		b.cleanup(ctx)
		return nil, err
	}
	return set, nil
}

// builder tracks the SDK objects created during one Build so a failed
// attempt can release them.
type builder struct {
	cfg     *Config
	opts    *buildOptions
	created []func(context.Context) error
}

func (b *builder) track(shutdown func(context.Context) error) {
	b.created = append(b.created, shutdown)
}

func (b *builder) cleanup(ctx context.Context) {
	for i := len(b.created) - 1; i >= 0; i-- {
		_ = b.created[i](ctx)
	}
}

func (b *builder) build(ctx context.Context, res *resource.Resource) (*ProviderSet, error) {
	processors, err := b.spanProcessors(ctx)
	if err != nil {
		return nil, err
	}

	readers, promReg, err := b.metricReaders(ctx)
	if err != nil {
		return nil, err
	}

	logProcessors, err := b.logProcessors(ctx)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(b.cfg.Sampling.Rate)),
	}
	for _, p := range processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}

	lpOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, p := range logProcessors {
		lpOpts = append(lpOpts, sdklog.WithProcessor(p))
	}

	policy := b.cfg.Baggage
	if policy.Mode == "" {
		policy = BaggageDisabled()
	}

	return &ProviderSet{
		TracerProvider: sdktrace.NewTracerProvider(tpOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(mpOpts...),
		LoggerProvider: sdklog.NewLoggerProvider(lpOpts...),
		Resource:       res,
		Propagator:     newPropagator(),
		BaggagePolicy:  policy,
		Prometheus:     promReg,
		SpanProcessors: processors,
	}, nil
}

// spanProcessors produces the one non-empty ordered processor sequence.
func (b *builder) spanProcessors(ctx context.Context) ([]sdktrace.SpanProcessor, error) {
	o := b.opts
	if len(o.spanProcessors) > 0 {
		if len(o.spanExporters) > 0 {
			o.diag.Warn(ctx, "span exporters ignored because span processors were given",
				zap.Int("processors", len(o.spanProcessors)),
				zap.Int("exporters", len(o.spanExporters)),
			)
		}
		return append([]sdktrace.SpanProcessor(nil), o.spanProcessors...), nil
	}

	if len(o.spanExporters) > 0 {
		processors := make([]sdktrace.SpanProcessor, 0, len(o.spanExporters))
		for i, exp := range o.spanExporters {
			processors = append(processors, b.wrapExporter(isolateExporter(exp, i), false))
		}
		return processors, nil
	}

	exp, err := b.defaultSpanExporter(ctx)
	if err != nil {
		return nil, err
	}
	return []sdktrace.SpanProcessor{b.wrapExporter(isolateExporter(exp, 0), true)}, nil
}

// wrapExporter picks the processor for one exporter. Defaults always batch.
// The processor is tracked, and its Shutdown also shuts down exp.
func (b *builder) wrapExporter(exp sdktrace.SpanExporter, alwaysBatch bool) sdktrace.SpanProcessor {
	var p sdktrace.SpanProcessor
	timeout := b.cfg.BatchTimeout.Duration()
	switch {
	case timeout >= minBatchTimeout:
		p = sdktrace.NewBatchSpanProcessor(exp, sdktrace.WithBatchTimeout(timeout))
	case alwaysBatch:
		p = sdktrace.NewBatchSpanProcessor(exp)
	default:
		p = sdktrace.NewSimpleSpanProcessor(exp)
	}
	b.track(p.Shutdown)
	return p
}

func (b *builder) defaultSpanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch {
	case b.cfg.Endpoint != "":
		exp, err := newOTLPSpanExporter(ctx, b.cfg)
		if err != nil {
			return nil, ConfigError{Field: "endpoint", Reason: "trace exporter", Cause: err}
		}
		return exp, nil
	case b.cfg.Console:
		return newConsoleSpanExporter(b.opts.console)
	default:
		return tracetest.NewNoopExporter(), nil
	}
}

func (b *builder) metricReaders(ctx context.Context) ([]sdkmetric.Reader, *prometheus.Registry, error) {
	readers := append([]sdkmetric.Reader(nil), b.opts.metricReaders...)

	if len(readers) == 0 {
		var (
			exp sdkmetric.Exporter
			err error
		)
		switch {
		case b.cfg.Endpoint != "":
			exp, err = newOTLPMetricExporter(ctx, b.cfg)
			if err != nil {
				return nil, nil, ConfigError{Field: "endpoint", Reason: "metric exporter", Cause: err}
			}
		case b.cfg.Console:
			exp, err = newConsoleMetricExporter(b.opts.console)
			if err != nil {
				return nil, nil, err
			}
		}
		if exp != nil {
			reader := sdkmetric.NewPeriodicReader(exp,
				sdkmetric.WithInterval(b.cfg.Metrics.ExportInterval.Duration()),
			)
			b.track(reader.Shutdown)
			readers = append(readers, reader)
		}
	}

	if !b.cfg.Metrics.Prometheus {
		return readers, nil, nil
	}

	reg := prometheus.NewRegistry()
	promExp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, ConfigError{Field: "metrics.prometheus", Reason: "exporter", Cause: err}
	}
	b.track(promExp.Shutdown)
	return append(readers, promExp), reg, nil
}

func (b *builder) logProcessors(ctx context.Context) ([]sdklog.Processor, error) {
	if len(b.opts.logProcessors) > 0 {
		return append([]sdklog.Processor(nil), b.opts.logProcessors...), nil
	}

	var (
		exp sdklog.Exporter
		err error
	)
	switch {
	case b.cfg.Endpoint != "":
		exp, err = newOTLPLogExporter(ctx, b.cfg)
		if err != nil {
			return nil, ConfigError{Field: "endpoint", Reason: "log exporter", Cause: err}
		}
	case b.cfg.Console:
		exp, err = newConsoleLogExporter(b.opts.console)
		if err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	processor := sdklog.NewBatchProcessor(exp)
	b.track(processor.Shutdown)
	return []sdklog.Processor{processor}, nil
}

// newResource merges service identity and resource_attributes. The
// service.name key is reserved: a differing value fails instead of
// silently winning.
func newResource(cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	keys := make([]string, 0, len(cfg.ResourceAttributes))
	for k := range cfg.ResourceAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := cfg.ResourceAttributes[k]
		if k == string(semconv.ServiceNameKey) {
			if v != cfg.ServiceName {
				return nil, ConfigError{
					Field:  "resource_attributes",
					Reason: fmt.Sprintf("service.name %q conflicts with service_name %q", v, cfg.ServiceName),
				}
			}
			continue
		}
		attrs = append(attrs, attribute.String(k, v))
	}

	// Standalone resource: resource.Default() carries a different semconv
	// schema URL and merging the two fails.
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...), nil
}

// newSampler wraps the ratio sampler so remote and local parents decide.
func newSampler(rate float64) sdktrace.Sampler {
	var sampler sdktrace.Sampler
	switch {
	case rate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case rate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(sampler)
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}
