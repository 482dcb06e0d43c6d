package telemetry

import (
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Registry holds the installed provider set and the isolated tracer
// provider slot. Reads are lock-free; Install is serialized so the global
// trace, metric and log providers are always swapped together.
//
// Most code uses the package-level functions, which operate on the default
// registry. A separate Registry is useful in tests and for libraries that
// must not touch the default one.
type Registry struct {
	installMu sync.Mutex
	installed atomic.Pointer[ProviderSet]
	isolated  atomic.Pointer[isolatedSlot]
}

// isolatedSlot boxes the interface so atomic.Pointer can hold it.
type isolatedSlot struct {
	provider trace.TracerProvider
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns the registry used by the package-level functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Install makes set the process-wide active pipeline: the OpenTelemetry
// global tracer, meter and logger providers and text map propagator are
// replaced. A second Install replaces the first; nothing accumulates.
// Install returns the previously installed set, or nil.
func (r *Registry) Install(set *ProviderSet) *ProviderSet {
	r.installMu.Lock()
	defer r.installMu.Unlock()

	otel.SetTracerProvider(set.TracerProvider)
	otel.SetMeterProvider(set.MeterProvider)
	global.SetLoggerProvider(set.LoggerProvider)
	otel.SetTextMapPropagator(set.Propagator)

	return r.installed.Swap(set)
}

// Installed returns the active provider set, or nil before Install.
func (r *Registry) Installed() *ProviderSet {
	return r.installed.Load()
}

// BaggagePolicy returns the policy of the installed set, or disabled.
func (r *Registry) BaggagePolicy() BaggagePolicy {
	if set := r.installed.Load(); set != nil {
		return set.BaggagePolicy
	}
	return BaggageDisabled()
}

// Propagator returns the installed propagator, falling back to the
// OpenTelemetry global one.
func (r *Registry) Propagator() propagation.TextMapPropagator {
	if set := r.installed.Load(); set != nil && set.Propagator != nil {
		return set.Propagator
	}
	return otel.GetTextMapPropagator()
}

// SetIsolatedTracerProvider replaces the isolated slot. Passing nil clears it
// and Tracer falls back to the global provider.
//
// Library authors use it to emit spans through their own pipeline without
// touching the application's global one:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
//	telemetry.SetIsolatedTracerProvider(tp)
//
// Context (trace ids, parent spans, baggage) is still shared with the host,
// so spans from the isolated provider nest under the host's active span.
func (r *Registry) SetIsolatedTracerProvider(tp trace.TracerProvider) {
	if tp == nil {
		r.isolated.Store(nil)
		return
	}
	r.isolated.Store(&isolatedSlot{provider: tp})
}

// IsolatedTracerProvider returns the isolated provider, or nil.
func (r *Registry) IsolatedTracerProvider() trace.TracerProvider {
	if slot := r.isolated.Load(); slot != nil {
		return slot.provider
	}
	return nil
}

// Tracer returns a tracer from the isolated provider if one is set, else
// from the global provider. The check runs on every call, so toggling the
// isolated provider affects tracers obtained afterwards only.
func (r *Registry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if tp := r.IsolatedTracerProvider(); tp != nil {
		return tp.Tracer(name, opts...)
	}
	return otel.GetTracerProvider().Tracer(name, opts...)
}

// SetIsolatedTracerProvider sets the default registry's isolated provider.
func SetIsolatedTracerProvider(tp trace.TracerProvider) {
	defaultRegistry.SetIsolatedTracerProvider(tp)
}

// IsolatedTracerProvider returns the default registry's isolated provider.
func IsolatedTracerProvider() trace.TracerProvider {
	return defaultRegistry.IsolatedTracerProvider()
}

// Tracer returns a tracer from the default registry. Version and schema URL
// are passed as options:
//
//	tracer := telemetry.Tracer("github.com/acme/lib",
//	    trace.WithInstrumentationVersion("1.2.0"),
//	    trace.WithSchemaURL(semconv.SchemaURL))
func Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return defaultRegistry.Tracer(name, opts...)
}
