package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceparentHeader = "traceparent"
	baggageHeader     = "baggage"
)

var errInvalidTraceparent = errors.New("invalid traceparent")

// Inject writes the trace context and baggage of ctx into carrier.
func (r *Registry) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	r.Propagator().Inject(ctx, carrier)
}

// Extract returns ctx enriched with the remote trace context and baggage
// found in carrier. It never fails: an undecodable traceparent or baggage
// header is reported as a PropagationError through the OpenTelemetry error
// handler, and spans started from the result become new trace roots.
func (r *Registry) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	out := r.Propagator().Extract(ctx, carrier)

	if tp := carrier.Get(traceparentHeader); tp != "" {
		if sc := trace.SpanContextFromContext(out); !sc.IsValid() || !sc.IsRemote() {
			otel.Handle(PropagationError{Op: "extract " + traceparentHeader, Cause: errInvalidTraceparent})
			// Drop any local parent so the inbound work starts a new trace.
			// Baggage lives under its own key and is kept.
			out = trace.ContextWithSpanContext(out, trace.SpanContext{})
		}
	}
	if bh := carrier.Get(baggageHeader); bh != "" {
		if _, err := baggage.Parse(bh); err != nil {
			otel.Handle(PropagationError{Op: "extract " + baggageHeader, Cause: err})
		}
	}
	return out
}

// Inject writes ctx into carrier using the default registry.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	defaultRegistry.Inject(ctx, carrier)
}

// Extract reads carrier into ctx using the default registry.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return defaultRegistry.Extract(ctx, carrier)
}
