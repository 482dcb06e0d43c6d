// Package telemetry bootstraps an OpenTelemetry pipeline and propagates trace
// context and baggage through context.Context.
//
// # Overview
//
// Init builds tracer, meter and logger providers from a Config plus optional
// processors, exporters and readers, then installs them as the process-wide
// active pipeline. Start opens spans that pick up selected baggage members as
// attributes. Libraries that must not share the host's pipeline register an
// isolated tracer provider instead.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig("checkout")
//	cfg.Endpoint = "localhost:4317"
//	cfg.Baggage = telemetry.BaggageDefaultPrefix()
//
//	tel, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, _, _ = telemetry.WithBaggage(ctx, map[string]string{"tenant.id": "t-1"})
//	ctx, scope := telemetry.Start(ctx, "op")
//	defer scope.End(&err)
//	// span "op" carries baggage.tenant.id = "t-1"
//
// # Pipeline normalization
//
// Span processors given with WithSpanProcessor or WithSpanProcessors are
// used verbatim. Otherwise every exporter from WithSpanExporters gets its own
// processor: batching when batch_timeout is at least 1ms, simple otherwise.
// With neither, a default exporter is created: OTLP when an endpoint is set,
// stdout when console is set, a no-op exporter otherwise. Metric readers and
// log processors follow the same rule independently.
//
// # Baggage projection
//
//	policy                  baggage {tenant.id: t-1}
//	BaggageDisabled()       (nothing)
//	BaggageDefaultPrefix()  baggage.tenant.id = t-1
//	BaggagePrefix("ctx")    ctx.tenant.id = t-1
//	BaggageNoPrefix()       tenant.id = t-1
//
// The projection is computed once when the span starts.
//
// # Error Handling
//
// Init returns ConfigError. Malformed inbound trace context is logged as a
// PropagationError and the work continues as a new trace root. A failing
// exporter is reported as an ExportError through the OpenTelemetry error
// handler and never affects its siblings. ForceFlush reports a missed
// deadline as false.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry(t, nil)
//	_, scope := tt.Start(ctx, "test-span")
//	scope.End(nil)
//	tt.AssertSpanExists(t, "test-span")
package telemetry
