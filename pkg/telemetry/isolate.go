package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// isolatedExporter contains the failures of one span exporter. Errors and
// panics become an ExportError sent to the OpenTelemetry error handler, and
// the processor sees success so it keeps serving its siblings.
type isolatedExporter struct {
	sdktrace.SpanExporter
	name   string
	report func(error)
}

func isolateExporter(exp sdktrace.SpanExporter, index int) *isolatedExporter {
	return &isolatedExporter{
		SpanExporter: exp,
		name:         fmt.Sprintf("%d(%T)", index, exp),
		report:       otel.Handle,
	}
}

func (e *isolatedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			e.report(ExportError{Exporter: e.name, Signal: "traces", Cause: err})
			err = nil
		}
	}()
	return e.SpanExporter.ExportSpans(ctx, spans)
}

func (e *isolatedExporter) Shutdown(ctx context.Context) error {
	if err := e.SpanExporter.Shutdown(ctx); err != nil {
		return ExportError{Exporter: e.name, Signal: "traces", Cause: err}
	}
	return nil
}
