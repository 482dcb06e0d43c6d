// Package natstel carries trace context and baggage in NATS message headers.
//
// Publishers call Publish or Request to open a producer span and inject the
// ambient context; subscribers wrap their callback with Handler so each
// message is processed inside a consumer span parented to the publisher.
package natstel

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/otelkit/pkg/telemetry"
)

// HeaderCarrier adapts nats.Header to a propagation.TextMapCarrier.
// NATS header keys are case sensitive, so keys are stored as given.
type HeaderCarrier nats.Header

// Get returns the first value for key.
func (c HeaderCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

// Set replaces the values for key.
func (c HeaderCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

// Keys lists the header keys.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Option configures publishing and handling.
type Option func(*options)

type options struct {
	registry *telemetry.Registry
	logger   *zap.Logger
}

// WithRegistry selects the registry used for propagation and spans.
func WithRegistry(r *telemetry.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithLogger sets the logger for handler failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		registry: telemetry.DefaultRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func messagingAttrs(subject string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.MessagingSystemKey.String("nats"),
		semconv.MessagingDestinationName(subject),
		semconv.MessagingMessageBodySize(size),
	}
}

// Publish sends data on subject inside a producer span.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte, opts ...Option) (err error) {
	o := newOptions(opts)
	ctx, scope := o.registry.StartWithKind(ctx, trace.SpanKindProducer, "publish "+subject, messagingAttrs(subject, len(data))...)
	defer scope.End(&err)

	msg := nats.NewMsg(subject)
	msg.Data = data
	o.registry.Inject(ctx, HeaderCarrier(msg.Header))

	return nc.PublishMsg(msg)
}

// Request sends data on subject and waits for a reply, bounded by ctx.
// The request runs inside a client span.
func Request(ctx context.Context, nc *nats.Conn, subject string, data []byte, opts ...Option) (reply *nats.Msg, err error) {
	o := newOptions(opts)
	ctx, scope := o.registry.StartWithKind(ctx, trace.SpanKindClient, "request "+subject, messagingAttrs(subject, len(data))...)
	defer scope.End(&err)

	msg := nats.NewMsg(subject)
	msg.Data = data
	o.registry.Inject(ctx, HeaderCarrier(msg.Header))

	return nc.RequestMsgWithContext(ctx, msg)
}

// HandlerFunc processes one message. A returned error is recorded on the
// consumer span and logged.
type HandlerFunc func(ctx context.Context, msg *nats.Msg) error

// Handler adapts fn to a nats.MsgHandler. The message headers are extracted
// into a fresh context and fn runs inside a consumer span.
func Handler(fn HandlerFunc, opts ...Option) nats.MsgHandler {
	o := newOptions(opts)
	return func(msg *nats.Msg) {
		ctx := context.Background()
		if msg.Header != nil {
			ctx = o.registry.Extract(ctx, HeaderCarrier(msg.Header))
		}

		var err error
		ctx, scope := o.registry.StartWithKind(ctx, trace.SpanKindConsumer, "process "+msg.Subject, messagingAttrs(msg.Subject, len(msg.Data))...)
		defer scope.End(&err)

		if err = fn(ctx, msg); err != nil {
			o.logger.Warn("nats handler failed",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
		}
	}
}
