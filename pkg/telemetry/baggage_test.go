package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
)

func TestWithBaggage_Merge(t *testing.T) {
	ctx := context.Background()

	ctx1, _, err := WithBaggage(ctx, map[string]string{"tenant.id": "t-1", "region": "eu"})
	require.NoError(t, err)

	ctx2, scope, err := WithBaggage(ctx1, map[string]string{"tenant.id": "t-2", "user.id": "u-9"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"tenant.id": "t-2",
		"region":    "eu",
		"user.id":   "u-9",
	}, BaggageMap(ctx2))

	// The parent context is untouched.
	assert.Equal(t, map[string]string{"tenant.id": "t-1", "region": "eu"}, BaggageMap(ctx1))
	assert.Equal(t, ctx1, scope.Detach())
	assert.Equal(t, ctx2, scope.Context())
}

func TestWithBaggage_EmptyKey(t *testing.T) {
	ctx, _, err := WithBaggage(context.Background(), map[string]string{"ok": "1"})
	require.NoError(t, err)

	got, scope, err := WithBaggage(ctx, map[string]string{"": "x"})
	require.Error(t, err)

	var propErr PropagationError
	require.ErrorAs(t, err, &propErr)
	assert.Contains(t, propErr.Op, "baggage member")

	// Context unchanged on failure.
	assert.Equal(t, ctx, got)
	assert.Equal(t, ctx, scope.Detach())
	assert.Equal(t, map[string]string{"ok": "1"}, BaggageMap(got))
}

func TestBaggage_Absent(t *testing.T) {
	v, ok := Baggage(context.Background(), "missing")
	assert.False(t, ok)
	assert.Empty(t, v)

	ctx, _, err := WithBaggage(context.Background(), map[string]string{"empty": ""})
	require.NoError(t, err)
	v, ok = Baggage(ctx, "empty")
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestCurrentContext_IsASnapshot(t *testing.T) {
	ctx, _, err := WithBaggage(context.Background(), map[string]string{"k": "v1"})
	require.NoError(t, err)

	snap := CurrentContext(ctx)
	snap.Baggage["k"] = "mutated"

	v, _ := Baggage(ctx, "k")
	assert.Equal(t, "v1", v)
	assert.False(t, snap.SpanContext.IsValid())
}

func TestBaggagePolicy_Project(t *testing.T) {
	m1, err := baggage.NewMemberRaw("tenant.id", "t-1")
	require.NoError(t, err)
	m2, err := baggage.NewMemberRaw("app", "web")
	require.NoError(t, err)
	bag, err := baggage.New(m1, m2)
	require.NoError(t, err)

	tests := []struct {
		name   string
		policy BaggagePolicy
		want   []attribute.KeyValue
	}{
		{
			name:   "disabled",
			policy: BaggageDisabled(),
			want:   nil,
		},
		{
			name:   "zero value",
			policy: BaggagePolicy{},
			want:   nil,
		},
		{
			name:   "default prefix",
			policy: BaggageDefaultPrefix(),
			want: []attribute.KeyValue{
				attribute.String("baggage.app", "web"),
				attribute.String("baggage.tenant.id", "t-1"),
			},
		},
		{
			name:   "custom prefix",
			policy: BaggagePrefix("ctx"),
			want: []attribute.KeyValue{
				attribute.String("ctx.app", "web"),
				attribute.String("ctx.tenant.id", "t-1"),
			},
		},
		{
			name:   "empty prefix means none",
			policy: BaggagePrefix(""),
			want: []attribute.KeyValue{
				attribute.String("app", "web"),
				attribute.String("tenant.id", "t-1"),
			},
		},
		{
			name:   "no prefix",
			policy: BaggageNoPrefix(),
			want: []attribute.KeyValue{
				attribute.String("app", "web"),
				attribute.String("tenant.id", "t-1"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Project(bag))
		})
	}
}

func TestBaggagePolicy_ProjectEmpty(t *testing.T) {
	assert.Nil(t, BaggageDefaultPrefix().Project(baggage.Baggage{}))
}
