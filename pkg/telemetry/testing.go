package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is an installed pipeline backed by in-memory recorders. It
// installs into its own Registry, but the OpenTelemetry globals are still
// replaced, so tests using it must not run in parallel with each other.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *sdkmetric.ManualReader
	registry     *Registry
}

// NewTestTelemetry installs a recording pipeline for cfg and shuts it down
// when the test ends. A nil cfg uses defaults for service "test" with
// stdout logging off.
func NewTestTelemetry(tb testing.TB, cfg *Config, opts ...Option) *TestTelemetry {
	tb.Helper()

	if cfg == nil {
		cfg = NewDefaultConfig("test")
		cfg.Logging.Output.Stdout = false
	}

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	registry := NewRegistry()

	opts = append([]Option{
		WithSpanProcessor(recorder),
		WithMetricReaders(reader),
		WithRegistry(registry),
	}, opts...)

	tel, err := Init(context.Background(), cfg, opts...)
	if err != nil {
		tb.Fatalf("telemetry init: %v", err)
	}
	tb.Cleanup(func() {
		_ = tel.Shutdown(context.Background())
	})

	return &TestTelemetry{
		Telemetry:    tel,
		SpanRecorder: recorder,
		MetricReader: reader,
		registry:     registry,
	}
}

// Registry returns the registry the pipeline was installed into.
func (t *TestTelemetry) Registry() *Registry {
	return t.registry
}

// Start opens a span through the test registry.
func (t *TestTelemetry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Scope) {
	return t.registry.Start(ctx, name, attrs...)
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			got := attrValue(attr.Value)
			if got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// AssertNoSpanAttribute verifies a span lacks the attribute.
func (t *TestTelemetry) AssertNoSpanAttribute(tb testing.TB, spanName string, key string) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			tb.Errorf("span %q has unexpected attribute %q = %v", spanName, key, attr.Value.Emit())
		}
	}
}

// CollectMetrics reads the current metric state.
func (t *TestTelemetry) CollectMetrics(tb testing.TB) metricdata.ResourceMetrics {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.MetricReader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	return rm
}

// FindMetric returns the metric with the given name, or false.
func FindMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// attrValue extracts the value from an attribute.
func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}
