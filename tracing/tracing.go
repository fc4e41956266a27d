// Package tracing wires rpcmux dispatches into OpenTelemetry. Unlike an
// HTTP service, there is no header to carry W3C trace context on — the
// wire format is one flat envelope — so traceparent travels in-band as a
// reserved key in RPCMessage.Data, the same trick the teacher's wider
// example pack uses for broker envelopes that cross a similar boundary
// (see other_examples' azd gRPC message broker).
package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"rpcmux/message"
)

// TraceparentKey is the reserved Data key a request or event carries its
// W3C traceparent string under. A message with no such key (or a message
// whose Data isn't a map) starts a fresh, unparented trace.
const TraceparentKey = "traceparent"

// Config controls whether and how spans are exported.
type Config struct {
	// Enabled turns on the OTLP/gRPC exporter. When false, Init installs a
	// no-op tracer and every span created through this package is free.
	Enabled bool `env:"TRACING_ENABLED" envDefault:"false"`

	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	Endpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4317"`

	// Insecure disables TLS on the exporter's gRPC connection.
	Insecure bool `env:"TRACING_INSECURE" envDefault:"true"`

	// ServiceName and ServiceVersion populate resource attributes on every
	// span this process emits.
	ServiceName    string `env:"TRACING_SERVICE_NAME" envDefault:"rpcmux"`
	ServiceVersion string `env:"TRACING_SERVICE_VERSION" envDefault:"dev"`

	// SampleRate is the fraction of traces sampled, in [0, 1]. 1 always
	// samples, 0 never does.
	SampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

var (
	tracer     trace.Tracer
	tracerOnce sync.Once
)

// Init sets up the OpenTelemetry SDK per cfg and returns a shutdown func
// that flushes and closes the exporter. Call shutdown during graceful
// server shutdown, after the last in-flight span has ended.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		return func(context.Context) error { return nil }, nil
	}

	var opts []otlptracegrpc.Option
	opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tracer = provider.Tracer(cfg.ServiceName)

	shutdown = func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	}
	return shutdown, nil
}

// Tracer returns the package-wide tracer, installing a no-op one on first
// use if Init was never called (e.g. in unit tests).
func Tracer() trace.Tracer {
	tracerOnce.Do(func() {
		if tracer == nil {
			tracer = noop.NewTracerProvider().Tracer("rpcmux")
		}
	})
	return tracer
}

// Extract reads a traceparent string out of msg's Data map, if present, and
// returns a context carrying the remote span it describes. A message with
// no traceparent key, or a non-map Data, yields ctx unchanged.
func Extract(ctx context.Context, msg *message.RPCMessage) context.Context {
	dm, ok := msg.DataMap()
	if !ok {
		return ctx
	}
	tp, ok := dm[TraceparentKey].(string)
	if !ok || tp == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{TraceparentKey: tp}
	return propagation.TraceContext{}.Extract(ctx, carrier)
}

// Inject writes the current span's traceparent into dm, creating the
// "traceparent" key. Callers pass a map[string]any they intend to use as
// (or merge into) an outbound message's Data.
func Inject(ctx context.Context, dm map[string]any) {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	if tp := carrier.Get(TraceparentKey); tp != "" {
		dm[TraceparentKey] = tp
	}
}

// StartDispatchSpan starts a span named "rpc.<pattern>", carrying any
// remote parent extracted from msg. Requests get kind SERVER (they are
// replied to); events get kind CONSUMER (they are fire-and-forget). The
// caller must End the returned span; on error, call RecordError before
// doing so.
func StartDispatchSpan(ctx context.Context, msg *message.RPCMessage) (context.Context, trace.Span) {
	ctx = Extract(ctx, msg)

	kind := trace.SpanKindServer
	if msg.PatternType == message.Event {
		kind = trace.SpanKindConsumer
	}

	return Tracer().Start(ctx, "rpc."+msg.Pattern,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("rpc.pattern", msg.Pattern),
			attribute.String("rpc.pattern_type", msg.PatternType.String()),
		),
	)
}

// RecordError records err on the current span and marks it failed. A nil
// err is a no-op, so callers can pass dispatch results unconditionally.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
