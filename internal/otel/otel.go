// Package otel turns gateway events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"
	"time"

	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	reqid "github.com/hanpama/stitchgraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentation = "github.com/hanpama/stitchgraph"

// Setup exports spans over OTLP/gRPC to endpoint and subscribes the tracer
// to the event bus. An empty endpoint disables tracing. The returned function
// flushes the exporter and removes the subscriptions.
func Setup(ctx context.Context, endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)
	detach := Attach(tp)
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach records gateway events as spans of tp until the returned function
// is called.
//
// Spans nest as http.request > graphql.operation > graphql.delegation,
// correlated by the request ID in the publishing context.
func Attach(tp trace.TracerProvider) (detach func()) {
	r := &recorder{tracer: tp.Tracer(instrumentation)}
	unsubs := []func(){
		eventbus.Subscribe(r.httpStart),
		eventbus.Subscribe(r.httpFinish),
		eventbus.Subscribe(r.operationStart),
		eventbus.Subscribe(r.operationFinish),
		eventbus.Subscribe(r.delegationStart),
		eventbus.Subscribe(r.delegationFinish),
		eventbus.Subscribe(r.introspection),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

type recorder struct {
	tracer     trace.Tracer
	requests   sync.Map // request id -> trace.Span
	operations sync.Map // request id -> trace.Span
	delegation sync.Map // delegation id -> trace.Span
}

// parent returns ctx carrying the innermost open span for the request.
func (r *recorder) parent(ctx context.Context, scopes ...*sync.Map) context.Context {
	rid, _ := reqid.FromContext(ctx)
	for _, m := range scopes {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key any, attrs ...attribute.KeyValue) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	span.End()
}

func fail(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (r *recorder) httpStart(ctx context.Context, e events.HTTPStart) {
	rid, _ := reqid.FromContext(ctx)
	_, span := r.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		semconv.HTTPMethodKey.String(e.Request.Method),
		attribute.String("http.target", e.Request.URL.Path),
		attribute.String("request.id", rid),
	)
	r.requests.Store(rid, span)
}

func (r *recorder) httpFinish(ctx context.Context, e events.HTTPFinish) {
	rid, _ := reqid.FromContext(ctx)
	end(&r.requests, rid, semconv.HTTPStatusCodeKey.Int(e.Status))
}

func (r *recorder) operationStart(ctx context.Context, e events.GraphQLStart) {
	rid, _ := reqid.FromContext(ctx)
	_, span := r.tracer.Start(r.parent(ctx, &r.requests), "graphql.operation")
	span.SetAttributes(
		attribute.String("graphql.operation.name", e.OperationName),
		attribute.String("graphql.operation.type", e.OperationType),
		attribute.Bool("graphql.document.cached", e.Cached),
	)
	r.operations.Store(rid, span)
}

func (r *recorder) operationFinish(ctx context.Context, e events.GraphQLFinish) {
	rid, _ := reqid.FromContext(ctx)
	end(&r.operations, rid, attribute.Int("graphql.error_count", len(e.Errors)))
}

func (r *recorder) delegationStart(ctx context.Context, e events.DelegationStart) {
	_, span := r.tracer.Start(r.parent(ctx, &r.operations, &r.requests), "graphql.delegation",
		trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("stitch.schema", e.Schema),
		attribute.String("stitch.field", e.Field),
		attribute.String("graphql.operation.type", e.OperationType),
	)
	r.delegation.Store(e.ID, span)
}

func (r *recorder) delegationFinish(_ context.Context, e events.DelegationFinish) {
	if v, ok := r.delegation.Load(e.ID); ok {
		fail(v.(trace.Span), e.Err)
	}
	end(&r.delegation, e.ID, attribute.Int("graphql.error_count", e.ErrorCount))
}

func (r *recorder) introspection(ctx context.Context, e events.IntrospectionAttempt) {
	_, span := r.tracer.Start(ctx, "graphql.introspection",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(time.Now().Add(-e.Duration)))
	span.SetAttributes(
		attribute.String("stitch.schema", e.Schema),
		attribute.String("http.url", e.URL),
		attribute.Int("stitch.attempt", e.Attempt),
	)
	fail(span, e.Err)
	span.End()
}
