// Package tracing sets up the OpenTelemetry tracer and provides span helpers
// for the HTTP, realtime, role workflow and authorization call paths.
package tracing

import (
	"context"
	"fmt"

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

const instrumentationName = "rolechat"

type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	JaegerURL      string
	Environment    string
	// SampleRate applies to root spans; children follow their parent.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "rolechat",
		ServiceVersion: "dev",
		JaegerURL:      "http://localhost:14268/api/traces",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// Init installs the global tracer provider and propagator. With tracing
// disabled it returns a provider whose Shutdown is a no-op.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &TracerProvider{tp: tp}, nil
}

func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

var (
	UserKeyKey  = attribute.Key("user.key")
	ChannelKey  = attribute.Key("channel")
	RoleKey     = attribute.Key("role")
	StepKey     = attribute.Key("step")
	ClientIDKey = attribute.Key("client.id")
)

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

func startWith(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanAttributes annotates the span in ctx, if it is recording.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return startWith(ctx, "http."+method,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

func TraceRealtimeFrame(ctx context.Context, action, clientID, channel string) (context.Context, trace.Span) {
	return startWith(ctx, "realtime."+action,
		attribute.String("realtime.action", action),
		ClientIDKey.String(clientID),
		ChannelKey.String(channel),
	)
}

// TraceRoleStep spans one step of a promote or demote workflow, named
// roles.<workflow>.<step>.
func TraceRoleStep(ctx context.Context, workflow, step, userKey string) (context.Context, trace.Span) {
	return startWith(ctx, "roles."+workflow+"."+step,
		attribute.String("roles.workflow", workflow),
		StepKey.String(step),
		UserKeyKey.String(userKey),
	)
}

func TraceAuthzCall(ctx context.Context, operation string) (context.Context, trace.Span) {
	return startWith(ctx, "authz."+operation, attribute.String("authz.operation", operation))
}
