// Package grpctel carries trace context and baggage across gRPC calls.
package grpctel

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/otelkit/pkg/telemetry"
)

// MetadataCarrier adapts gRPC metadata to a propagation.TextMapCarrier.
type MetadataCarrier metadata.MD

// Get returns the first value for key.
func (c MetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Set replaces the values for key.
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys lists the metadata keys.
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Option configures the interceptors.
type Option func(*options)

type options struct {
	registry *telemetry.Registry
}

// WithRegistry selects the registry used for propagation and spans.
func WithRegistry(r *telemetry.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{registry: telemetry.DefaultRegistry()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UnaryServerInterceptor extracts the caller's context from incoming
// metadata and runs the handler inside a server span named after the method.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	o := newOptions(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = o.registry.Extract(ctx, MetadataCarrier(md.Copy()))

		ctx, scope := o.registry.StartWithKind(ctx, trace.SpanKindServer, spanName(info.FullMethod), rpcAttrs(info.FullMethod)...)
		defer scope.End(&err)

		resp, err = handler(ctx, req)
		scope.SetAttribute(semconv.RPCGRPCStatusCodeKey.Int(int(status.Code(err))))
		return resp, err
	}
}

// UnaryClientInterceptor writes the ambient context into outgoing metadata
// and wraps the call in a client span.
func UnaryClientInterceptor(opts ...Option) grpc.UnaryClientInterceptor {
	o := newOptions(opts)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) (err error) {
		ctx, scope := o.registry.StartWithKind(ctx, trace.SpanKindClient, spanName(method), rpcAttrs(method)...)
		defer scope.End(&err)

		md, ok := metadata.FromOutgoingContext(ctx)
		if ok {
			md = md.Copy()
		} else {
			md = metadata.MD{}
		}
		o.registry.Inject(ctx, MetadataCarrier(md))
		ctx = metadata.NewOutgoingContext(ctx, md)

		err = invoker(ctx, method, req, reply, cc, callOpts...)
		scope.SetAttribute(semconv.RPCGRPCStatusCodeKey.Int(int(status.Code(err))))
		return err
	}
}

// spanName turns "/pkg.Service/Method" into "pkg.Service/Method".
func spanName(fullMethod string) string {
	name := strings.TrimPrefix(fullMethod, "/")
	if name == "" {
		return "grpc"
	}
	return name
}

func rpcAttrs(fullMethod string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.RPCSystemGRPC}
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if ok {
		attrs = append(attrs, semconv.RPCService(service), semconv.RPCMethod(method))
	}
	return attrs
}
