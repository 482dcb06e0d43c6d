package telemetry

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

// BaggageScope is returned by WithBaggage. Detach hands back the context
// that was active before the entries were added.
type BaggageScope struct {
	parent context.Context
	ctx    context.Context
}

// Context returns the context carrying the merged baggage.
func (s *BaggageScope) Context() context.Context {
	return s.ctx
}

// Detach returns the context active before WithBaggage. The caller's
// context is never modified, so detaching is just switching back to it.
func (s *BaggageScope) Detach() context.Context {
	return s.parent
}

// WithBaggage merges entries into the baggage of ctx. A key present in both
// takes the new value; other existing members are kept. On an invalid key or
// value the returned context is ctx unchanged and the error is a
// PropagationError.
//
//	ctx, scope, err := telemetry.WithBaggage(ctx, map[string]string{"tenant.id": "t-1"})
//	if err != nil {
//	    return err
//	}
//	defer scope.Detach()
func WithBaggage(ctx context.Context, entries map[string]string) (context.Context, *BaggageScope, error) {
	bag := baggage.FromContext(ctx)

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		member, err := baggage.NewMemberRaw(k, entries[k])
		if err != nil {
			return ctx, &BaggageScope{parent: ctx, ctx: ctx}, PropagationError{Op: "baggage member " + k, Cause: err}
		}
		bag, err = bag.SetMember(member)
		if err != nil {
			return ctx, &BaggageScope{parent: ctx, ctx: ctx}, PropagationError{Op: "baggage member " + k, Cause: err}
		}
	}

	next := baggage.ContextWithBaggage(ctx, bag)
	return next, &BaggageScope{parent: ctx, ctx: next}, nil
}

// Baggage returns the value of key in the baggage of ctx. A missing key is
// reported through ok, not as an error.
func Baggage(ctx context.Context, key string) (value string, ok bool) {
	m := baggage.FromContext(ctx).Member(key)
	if m.Key() == "" {
		return "", false
	}
	return m.Value(), true
}

// BaggageMap returns a copy of every baggage member in ctx.
func BaggageMap(ctx context.Context) map[string]string {
	members := baggage.FromContext(ctx).Members()
	out := make(map[string]string, len(members))
	for _, m := range members {
		out[m.Key()] = m.Value()
	}
	return out
}

// Snapshot is a read-only view of the ambient context taken at one point.
// Later changes to the context are not reflected.
type Snapshot struct {
	SpanContext trace.SpanContext
	Baggage     map[string]string
}

// CurrentContext captures the active span context and baggage of ctx.
func CurrentContext(ctx context.Context) Snapshot {
	return Snapshot{
		SpanContext: trace.SpanContextFromContext(ctx),
		Baggage:     BaggageMap(ctx),
	}
}

// Project returns the span attributes the policy derives from bag, sorted by
// baggage key. A disabled policy returns nil.
func (p BaggagePolicy) Project(bag baggage.Baggage) []attribute.KeyValue {
	if !p.Enabled() || bag.Len() == 0 {
		return nil
	}

	members := bag.Members()
	sort.Slice(members, func(i, j int) bool { return members[i].Key() < members[j].Key() })

	attrs := make([]attribute.KeyValue, 0, len(members))
	for _, m := range members {
		attrs = append(attrs, attribute.String(p.AttributeKey(m.Key()), m.Value()))
	}
	return attrs
}
