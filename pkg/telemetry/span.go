package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer scope used by Start.
const InstrumentationName = "github.com/fyrsmithlabs/otelkit"

// Scope is one traced unit of work. It is created by Start and finished by
// End, normally deferred:
//
//	func (s *Service) Charge(ctx context.Context, id string) (err error) {
//	    ctx, scope := telemetry.Start(ctx, "charge", attribute.String("order.id", id))
//	    defer scope.End(&err)
//	    ...
//	}
type Scope struct {
	parent context.Context
	ctx    context.Context
	span   trace.Span
	ended  atomic.Bool
}

// Start opens a span as a child of the active span in ctx (or a new root),
// seeded with the baggage projection of the installed policy and then attrs.
// Caller attributes win over projected ones with the same key.
func (r *Registry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Scope) {
	return r.start(ctx, r.Tracer(InstrumentationName), name, attrs)
}

// StartWithTracer is Start with an explicit tracer.
func (r *Registry) StartWithTracer(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, *Scope) {
	return r.start(ctx, tracer, name, attrs)
}

// StartWithKind is Start for spans that cross a process boundary, such as
// trace.SpanKindServer in an inbound adapter.
func (r *Registry) StartWithKind(ctx context.Context, kind trace.SpanKind, name string, attrs ...attribute.KeyValue) (context.Context, *Scope) {
	return r.start(ctx, r.Tracer(InstrumentationName), name, attrs, trace.WithSpanKind(kind))
}

func (r *Registry) start(ctx context.Context, tracer trace.Tracer, name string, attrs []attribute.KeyValue, opts ...trace.SpanStartOption) (context.Context, *Scope) {
	projected := r.BaggagePolicy().Project(baggage.FromContext(ctx))

	if all := append(projected, attrs...); len(all) > 0 {
		opts = append(opts, trace.WithAttributes(all...))
	}

	next, span := tracer.Start(ctx, name, opts...)
	return next, &Scope{parent: ctx, ctx: next, span: span}
}

// Start opens a span using the default registry.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Scope) {
	return defaultRegistry.Start(ctx, name, attrs...)
}

// StartWithTracer opens a span with tracer using the default registry's
// baggage policy.
func StartWithTracer(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, *Scope) {
	return defaultRegistry.StartWithTracer(ctx, tracer, name, attrs...)
}

// End finishes the span exactly once. It must be deferred directly
// (defer scope.End(&err)) to observe panics.
//
// The exit is an error exit when a panic is unwinding, when *errp is non-nil,
// or when the scope's context was cancelled or timed out. The error is
// recorded as an exception event and the status set to Error. A recovered
// panic is re-raised after the span ends.
func (s *Scope) End(errp *error) {
	r := recover()

	if s.ended.CompareAndSwap(false, true) {
		switch {
		case r != nil:
			s.fail(fmt.Errorf("panic: %v", r), trace.WithStackTrace(true))
		case errp != nil && *errp != nil:
			s.fail(*errp)
		case s.ctx.Err() != nil:
			s.fail(context.Cause(s.ctx))
		}
		s.span.End()
	}

	if r != nil {
		panic(r)
	}
}

func (s *Scope) fail(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
	s.span.SetStatus(codes.Error, err.Error())
}

// SetAttribute sets attributes on the span.
func (s *Scope) SetAttribute(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

// Baggage reads key from the baggage visible to this scope.
func (s *Scope) Baggage(key string) (string, bool) {
	return Baggage(s.ctx, key)
}

// RecordError records err as an exception event and marks the span failed.
// A nil err is ignored.
func (s *Scope) RecordError(err error, opts ...trace.EventOption) {
	if err == nil {
		return
	}
	s.fail(err, opts...)
}

// Context returns the context carrying this scope's span.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Detach returns the context that was active before Start, however deeply
// scopes are nested.
func (s *Scope) Detach() context.Context {
	return s.parent
}

// Span returns the underlying span.
func (s *Scope) Span() trace.Span {
	return s.span
}
