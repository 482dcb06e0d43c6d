package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// spanAttrs flattens a span's attributes for comparison.
func spanAttrs(span sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestStart_BaggageProjectionScenarios(t *testing.T) {
	tests := []struct {
		name    string
		policy  BaggagePolicy
		present string
		absent  []string
	}{
		{
			name:    "enabled with default prefix",
			policy:  BaggageDefaultPrefix(),
			present: "baggage.tenant.id",
			absent:  []string{"tenant.id"},
		},
		{
			name:    "custom prefix ctx",
			policy:  BaggagePrefix("ctx"),
			present: "ctx.tenant.id",
			absent:  []string{"baggage.tenant.id", "tenant.id"},
		},
		{
			name:    "empty prefix",
			policy:  BaggagePrefix(""),
			present: "tenant.id",
			absent:  []string{"baggage.tenant.id"},
		},
		{
			name:   "disabled",
			policy: BaggageDisabled(),
			absent: []string{"baggage.tenant.id", "tenant.id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("s")
			cfg.Baggage = tt.policy
			tel := NewTestTelemetry(t, cfg)

			ctx, _, err := WithBaggage(context.Background(), map[string]string{"tenant.id": "t-1"})
			require.NoError(t, err)

			_, scope := tel.Start(ctx, "op")
			scope.End(nil)

			if tt.present != "" {
				tel.AssertSpanAttribute(t, "op", tt.present, "t-1")
				assert.Len(t, tel.SpanByName("op").Attributes(), 1, "exactly the projected attribute")
			} else {
				assert.Empty(t, tel.SpanByName("op").Attributes())
			}
			for _, key := range tt.absent {
				tel.AssertNoSpanAttribute(t, "op", key)
			}
		})
	}
}

func TestStart_ProjectionIsFixedAtStart(t *testing.T) {
	cfg := testConfig("s")
	cfg.Baggage = BaggageDefaultPrefix()
	tel := NewTestTelemetry(t, cfg)

	ctx, _, err := WithBaggage(context.Background(), map[string]string{"tenant.id": "t-1"})
	require.NoError(t, err)

	ctx, scope := tel.Start(ctx, "op")
	_, _, err = WithBaggage(ctx, map[string]string{"tenant.id": "t-2", "late": "x"})
	require.NoError(t, err)
	scope.End(nil)

	tel.AssertSpanAttribute(t, "op", "baggage.tenant.id", "t-1")
	tel.AssertNoSpanAttribute(t, "op", "baggage.late")
}

func TestStart_CallerAttributesOverrideProjection(t *testing.T) {
	cfg := testConfig("s")
	cfg.Baggage = BaggageNoPrefix()
	tel := NewTestTelemetry(t, cfg)

	ctx, _, err := WithBaggage(context.Background(), map[string]string{"tenant.id": "from-baggage"})
	require.NoError(t, err)

	_, scope := tel.Start(ctx, "op", attribute.String("tenant.id", "explicit"))
	scope.End(nil)

	tel.AssertSpanAttribute(t, "op", "tenant.id", "explicit")
}

func TestScope_NestedDetachRestoresParent(t *testing.T) {
	tel := NewTestTelemetry(t, nil)
	root := context.Background()

	ctx1, s1 := tel.Start(root, "outer")
	ctx2, s2 := tel.Start(ctx1, "middle")
	_, s3 := tel.Start(ctx2, "inner")

	assert.Equal(t, ctx2, s3.Detach())
	assert.Equal(t, ctx1, s2.Detach())
	assert.Equal(t, root, s1.Detach())

	s3.End(nil)
	s2.End(nil)
	s1.End(nil)

	outer := tel.SpanByName("outer")
	middle := tel.SpanByName("middle")
	inner := tel.SpanByName("inner")
	require.NotNil(t, outer)
	assert.Equal(t, outer.SpanContext().SpanID(), middle.Parent().SpanID())
	assert.Equal(t, middle.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, outer.SpanContext().TraceID(), inner.SpanContext().TraceID())
	assert.False(t, trace.SpanContextFromContext(s1.Detach()).IsValid())
}

func TestScope_EndRecordsError(t *testing.T) {
	tel := NewTestTelemetry(t, nil)

	work := func(ctx context.Context) (err error) {
		_, scope := tel.Start(ctx, "failing")
		defer scope.End(&err)
		return errors.New("card declined")
	}
	require.Error(t, work(context.Background()))

	span := tel.SpanByName("failing")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "card declined", span.Status().Description)
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)
}

func TestScope_EndOnPanic(t *testing.T) {
	tel := NewTestTelemetry(t, nil)
	parent := context.Background()
	var scope *Scope

	assert.PanicsWithValue(t, "kaboom", func() {
		_, scope = tel.Start(parent, "panicking")
		defer scope.End(nil)
		panic("kaboom")
	})

	span := tel.SpanByName("panicking")
	require.NotNil(t, span, "span must end on panic")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Status().Description, "kaboom")
	assert.Equal(t, parent, scope.Detach())
}

func TestScope_EndOnCancellation(t *testing.T) {
	tel := NewTestTelemetry(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, scope := tel.Start(ctx, "cancelled")
	cancel()
	scope.End(nil)

	span := tel.SpanByName("cancelled")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, context.Canceled.Error(), span.Status().Description)
}

func TestScope_EndIsIdempotent(t *testing.T) {
	tel := NewTestTelemetry(t, nil)

	_, scope := tel.Start(context.Background(), "once")
	scope.End(nil)
	scope.End(nil)

	assert.Len(t, tel.Spans(), 1)
}

func TestScope_Helpers(t *testing.T) {
	tel := NewTestTelemetry(t, nil)

	ctx, _, err := WithBaggage(context.Background(), map[string]string{"request.id": "r-1"})
	require.NoError(t, err)

	ctx, scope := tel.Start(ctx, "helpers")
	scope.SetAttribute(attribute.Int("items", 3))
	scope.RecordError(nil)
	scope.RecordError(errors.New("soft failure"))

	v, ok := scope.Baggage("request.id")
	assert.True(t, ok)
	assert.Equal(t, "r-1", v)
	assert.Equal(t, ctx, scope.Context())
	assert.True(t, scope.Span().SpanContext().IsValid())
	scope.End(nil)

	tel.AssertSpanAttribute(t, "helpers", "items", int64(3))
	span := tel.SpanByName("helpers")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Len(t, span.Events(), 1)
}

func TestStart_ConcurrentContextsAreIndependent(t *testing.T) {
	cfg := testConfig("s")
	cfg.Baggage = BaggageDefaultPrefix()
	tel := NewTestTelemetry(t, cfg)

	parent, scope := tel.Start(context.Background(), "parent")

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tenant := fmt.Sprintf("t-%d", i)
			ctx, _, err := WithBaggage(parent, map[string]string{"tenant.id": tenant})
			if err != nil {
				t.Error(err)
				return
			}
			_, child := tel.Start(ctx, "child-"+tenant)
			child.End(nil)
		}(i)
	}
	wg.Wait()
	scope.End(nil)

	parentSpan := tel.SpanByName("parent")
	require.NotNil(t, parentSpan)
	assert.Empty(t, BaggageMap(parent), "children never mutate the parent context")

	for i := 0; i < workers; i++ {
		tenant := fmt.Sprintf("t-%d", i)
		child := tel.SpanByName("child-" + tenant)
		require.NotNil(t, child, tenant)
		assert.Equal(t, tenant, spanAttrs(child)["baggage.tenant.id"])
		assert.Equal(t, parentSpan.SpanContext().SpanID(), child.Parent().SpanID())
	}
}
