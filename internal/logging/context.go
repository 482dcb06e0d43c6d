package logging

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields returns the correlation fields for ctx: trace_id, span_id,
// trace_sampled and one baggage.<key> field per baggage member.
func ContextFields(ctx context.Context) []zap.Field {
	return correlationFields(ctx, true)
}

func correlationFields(ctx context.Context, withBaggage bool) []zap.Field {
	var fields []zap.Field

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if !withBaggage {
		return fields
	}
	members := baggage.FromContext(ctx).Members()
	sort.Slice(members, func(i, j int) bool { return members[i].Key() < members[j].Key() })
	for _, m := range members {
		fields = append(fields, zap.String("baggage."+m.Key(), m.Value()))
	}
	return fields
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
