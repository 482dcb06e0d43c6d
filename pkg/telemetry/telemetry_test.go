package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/otelkit/internal/config"
)

// testConfig returns defaults with stdout logging off.
func testConfig(service string) *Config {
	cfg := NewDefaultConfig(service)
	cfg.Logging.Output.Stdout = false
	return cfg
}

// initTest installs a pipeline into a private registry and shuts it down
// with the test.
func initTest(t *testing.T, cfg *Config, opts ...Option) (*Telemetry, *Registry) {
	t.Helper()
	reg := NewRegistry()
	tel, err := Init(context.Background(), cfg, append(opts, WithRegistry(reg))...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tel.Shutdown(context.Background())
	})
	return tel, reg
}

// failingExporter rejects every batch.
type failingExporter struct {
	mu    sync.Mutex
	calls int
}

func (e *failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return errors.New("collector unreachable")
}

func (e *failingExporter) Shutdown(context.Context) error { return nil }

func (e *failingExporter) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// blockingExporter holds every export until ctx is done.
type blockingExporter struct{}

func (blockingExporter) ExportSpans(ctx context.Context, _ []sdktrace.ReadOnlySpan) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingExporter) Shutdown(context.Context) error { return nil }

func TestInit_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *Config
		opts  []Option
		field string
	}{
		{
			name:  "nil config",
			cfg:   nil,
			field: "config",
		},
		{
			name:  "missing service",
			cfg:   testConfig(""),
			field: "service_name",
		},
		{
			name: "unknown baggage mode",
			cfg: func() *Config {
				c := testConfig("svc")
				c.Baggage = BaggagePolicy{Mode: "sometimes"}
				return c
			}(),
			field: "baggage.mode",
		},
		{
			name: "bad protocol",
			cfg: func() *Config {
				c := testConfig("svc")
				c.Protocol = "carrier-pigeon"
				return c
			}(),
			field: "protocol",
		},
		{
			name: "service.name conflict",
			cfg: func() *Config {
				c := testConfig("svc")
				c.ResourceAttributes = map[string]string{"service.name": "other"}
				return c
			}(),
			field: "resource_attributes",
		},
		{
			name:  "nil span processor",
			cfg:   testConfig("svc"),
			opts:  []Option{WithSpanProcessors(sdktrace.NewSimpleSpanProcessor(tracetest.NewInMemoryExporter()), nil)},
			field: "span_processors",
		},
		{
			name:  "nil span exporter",
			cfg:   testConfig("svc"),
			opts:  []Option{WithSpanExporters(nil)},
			field: "span_exporters",
		},
		{
			name:  "nil metric reader",
			cfg:   testConfig("svc"),
			opts:  []Option{WithMetricReaders(nil)},
			field: "metric_readers",
		},
		{
			name:  "nil log processor",
			cfg:   testConfig("svc"),
			opts:  []Option{WithLogProcessors(nil)},
			field: "log_processors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			tel, err := Init(context.Background(), tt.cfg, append(tt.opts, WithRegistry(reg))...)
			require.Error(t, err)
			assert.Nil(t, tel)

			var cfgErr ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)

			// Nothing was installed.
			assert.Nil(t, reg.Installed())
		})
	}
}

func TestInit_InstallsIntoRegistry(t *testing.T) {
	tel, reg := initTest(t, testConfig("svc"))

	require.NotNil(t, reg.Installed())
	assert.Same(t, tel.Providers(), reg.Installed())
	assert.Same(t, tel.Providers().TracerProvider, otel.GetTracerProvider())
	assert.Equal(t, BaggageDisabled(), reg.BaggagePolicy())
}

func TestInit_ReplacesPreviousPipeline(t *testing.T) {
	reg := NewRegistry()
	first := tracetest.NewInMemoryExporter()
	second := tracetest.NewInMemoryExporter()

	tel1, err := Init(context.Background(), testConfig("svc"), WithSpanExporters(first), WithRegistry(reg))
	require.NoError(t, err)
	defer tel1.Shutdown(context.Background())

	tel2, err := Init(context.Background(), testConfig("svc"), WithSpanExporters(second), WithRegistry(reg))
	require.NoError(t, err)
	defer tel2.Shutdown(context.Background())

	assert.Same(t, tel2.Providers(), reg.Installed())

	_, scope := reg.Start(context.Background(), "after-replace")
	scope.End(nil)

	assert.Empty(t, first.GetSpans(), "replaced pipeline must not receive spans")
	require.Len(t, second.GetSpans(), 1)
	assert.Equal(t, "after-replace", second.GetSpans()[0].Name)
}

func TestTelemetry_ForceFlush(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := testConfig("svc")
	cfg.BatchTimeout = config.Duration(time.Hour)
	tel, reg := initTest(t, cfg, WithSpanExporters(exp))

	_, scope := reg.Start(context.Background(), "batched")
	scope.End(nil)
	assert.Empty(t, exp.GetSpans(), "batch processor should hold the span")

	assert.True(t, tel.ForceFlush(context.Background(), 5*time.Second))
	require.Len(t, exp.GetSpans(), 1)
}

func TestTelemetry_ForceFlushTimeout(t *testing.T) {
	cfg := testConfig("svc")
	cfg.BatchTimeout = config.Duration(time.Hour)
	tel, reg := initTest(t, cfg, WithSpanExporters(blockingExporter{}))

	_, scope := reg.Start(context.Background(), "stuck")
	scope.End(nil)

	start := time.Now()
	ok := tel.ForceFlush(context.Background(), 50*time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second, "flush must honor its timeout")
}

func TestTelemetry_ExportFailureIsContained(t *testing.T) {
	bad := &failingExporter{}
	good := tracetest.NewInMemoryExporter()
	tel, reg := initTest(t, testConfig("svc"), WithSpanExporters(bad, good))

	var err error
	func() {
		_, scope := reg.Start(context.Background(), "op")
		defer scope.End(&err)
	}()

	assert.NoError(t, err)
	assert.Equal(t, 1, bad.Calls())
	require.Len(t, good.GetSpans(), 1)
	assert.True(t, tel.Health().Degraded)
	assert.True(t, tel.Health().Healthy)
}

func TestTelemetry_Shutdown(t *testing.T) {
	reg := NewRegistry()
	tel, err := Init(context.Background(), testConfig("svc"), WithRegistry(reg))
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)

	// Second call returns the first result.
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.Logger()
		_ = tel.LoggerProvider()
		_ = tel.Providers()
		_ = tel.PrometheusHandler()
		_ = tel.Health()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background(), time.Second)
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_LoggerBridgesToLogProcessors(t *testing.T) {
	proc := &recordingProcessor{}
	tel, _ := initTest(t, testConfig("svc"), WithLogProcessors(proc))

	tel.Logger().Info(context.Background(), "hello from zap")

	assert.Contains(t, proc.Bodies(), "hello from zap")
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry(t, nil)

	_, scope := tt.Start(context.Background(), "test-span")
	scope.End(nil)

	tt.AssertSpanExists(t, "test-span")
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestHeaderFields_NeverCarryValues(t *testing.T) {
	fields := headerFields(map[string]config.Secret{
		"x-tenant":      "acme",
		"authorization": "Bearer abc123",
	})

	require.Len(t, fields, 2)
	assert.Equal(t, "header.authorization", fields[0].Key)
	assert.Equal(t, "[REDACTED:13]", fields[0].String)
	assert.Equal(t, "header.x-tenant", fields[1].Key)
	assert.Equal(t, "[REDACTED:4]", fields[1].String)
	assert.Empty(t, headerFields(nil))
}
