package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	reqid "github.com/hanpama/stitchgraph/internal/reqid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func record(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(Attach(tp))
	return sr
}

func byName(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	out := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		out[s.Name()] = s
	}
	return out
}

func attr(s sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestSpansNestPerRequest(t *testing.T) {
	sr := record(t)
	ctx, _ := reqid.WithID(context.Background(), "req-1")
	req := httptest.NewRequest("POST", "/graphql", nil)

	eventbus.Publish(ctx, events.HTTPStart{Request: req})
	eventbus.Publish(ctx, events.GraphQLStart{OperationName: "Q", OperationType: "query", Cached: true})
	eventbus.Publish(ctx, events.DelegationStart{ID: 7, Schema: "users", Field: "userById", OperationType: "query"})
	eventbus.Publish(ctx, events.DelegationFinish{ID: 7, Schema: "users", ErrorCount: 1, Err: errors.New("connection refused")})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationName: "Q", Errors: []error{errors.New("boom")}})
	eventbus.Publish(ctx, events.HTTPFinish{Request: req, Status: 200})

	spans := byName(sr.Ended())
	require.Len(t, spans, 3)
	httpSpan := spans["http.request"]
	op := spans["graphql.operation"]
	del := spans["graphql.delegation"]
	require.NotNil(t, httpSpan)
	require.NotNil(t, op)
	require.NotNil(t, del)

	require.Equal(t, httpSpan.SpanContext().SpanID(), op.Parent().SpanID())
	require.Equal(t, op.SpanContext().SpanID(), del.Parent().SpanID())
	require.Equal(t, httpSpan.SpanContext().TraceID(), del.SpanContext().TraceID())

	require.Equal(t, int64(200), attr(httpSpan, "http.status_code").AsInt64())
	require.Equal(t, "req-1", attr(httpSpan, "request.id").AsString())
	require.True(t, attr(op, "graphql.document.cached").AsBool())
	require.Equal(t, int64(1), attr(op, "graphql.error_count").AsInt64())
	require.Equal(t, "users", attr(del, "stitch.schema").AsString())
	require.Equal(t, codes.Error, del.Status().Code)
	require.Len(t, del.Events(), 1, "recorded error")
}

func TestIntrospectionSpan(t *testing.T) {
	sr := record(t)
	eventbus.Publish(context.Background(), events.IntrospectionAttempt{
		Schema: "users", URL: "http://users/graphql", Attempt: 2, Duration: time.Second,
	})
	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "graphql.introspection", spans[0].Name())
	require.Equal(t, int64(2), attr(spans[0], "stitch.attempt").AsInt64())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.GreaterOrEqual(t, spans[0].EndTime().Sub(spans[0].StartTime()), time.Second)
}

func TestFinishWithoutStartIsIgnored(t *testing.T) {
	sr := record(t)
	ctx, _ := reqid.WithID(context.Background(), "orphan")
	eventbus.Publish(ctx, events.GraphQLFinish{})
	eventbus.Publish(ctx, events.DelegationFinish{ID: 99})
	require.Empty(t, sr.Ended())
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "stitchgraph")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
