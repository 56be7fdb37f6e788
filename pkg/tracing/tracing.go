package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "callcore"

var (
	CallActionKey  = attribute.Key("call.action")
	ProcessorKey   = attribute.Key("call.processor")
	RecipientKey   = attribute.Key("call.recipient")
	MessageTypeKey = attribute.Key("signal.message_type")
	StoreKey       = attribute.Key("store.system")
	StoreOpKey     = attribute.Key("store.operation")
	DurationKey    = attribute.Key("duration_ms")
)

type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "callcore",
		Version:     "dev",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider is a no-op when tracing is disabled.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed provider as the global one. Child spans
// follow their parent's sampling decision.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ObserveDuration stamps the span in ctx with the time elapsed since start.
func ObserveDuration(ctx context.Context, start time.Time) time.Duration {
	elapsed := time.Since(start)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(DurationKey.Int64(elapsed.Milliseconds()))
	}
	return elapsed
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

// TraceRelayFrame covers one frame routed by the relay.
func TraceRelayFrame(ctx context.Context, messageType, recipient string) (context.Context, trace.Span) {
	return StartSpan(ctx, "relay."+messageType,
		MessageTypeKey.String(messageType),
		RecipientKey.String(recipient),
	)
}

func TraceCallAction(ctx context.Context, action, processor string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call."+action,
		CallActionKey.String(action),
		ProcessorKey.String(processor),
	)
}

func TraceSignaling(ctx context.Context, messageType, recipient string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+messageType,
		MessageTypeKey.String(messageType),
		RecipientKey.String(recipient),
	)
}

// TraceStore covers one round trip to a backing store such as redis.
func TraceStore(ctx context.Context, system, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, system+"."+operation,
		StoreKey.String(system),
		StoreOpKey.String(operation),
	)
}
