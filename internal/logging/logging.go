// Package logging builds the process logger and attaches it to the event bus.
package logging

import (
	"context"

	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	reqid "github.com/hanpama/stitchgraph/internal/reqid"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger at level ("debug", "info", "warn", "error").
// Development loggers print human-readable console output.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Register subscribes logger to gateway events on the global bus. The
// returned function removes the subscriptions.
func Register(logger *zap.Logger) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			logger.Info("http request",
				requestID(ctx),
				zap.String("method", e.Request.Method),
				zap.String("path", e.Request.URL.Path),
				zap.Int("status", e.Status),
				zap.Duration("duration", e.Duration),
			)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			fields := []zap.Field{
				requestID(ctx),
				zap.String("operation", e.OperationName),
				zap.String("type", e.OperationType),
				zap.Duration("duration", e.Duration),
			}
			if len(e.Errors) > 0 {
				fields = append(fields, zap.Errors("errors", e.Errors))
				logger.Warn("graphql operation failed", fields...)
				return
			}
			logger.Debug("graphql operation", fields...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.DelegationFinish) {
			fields := []zap.Field{
				requestID(ctx),
				zap.String("schema", e.Schema),
				zap.String("field", e.Field),
				zap.Int("errors", e.ErrorCount),
				zap.Duration("duration", e.Duration),
			}
			if e.Err != nil {
				logger.Error("delegation failed", append(fields, zap.Error(e.Err))...)
				return
			}
			logger.Debug("delegation", fields...)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.IntrospectionAttempt) {
			fields := []zap.Field{
				zap.String("schema", e.Schema),
				zap.String("url", e.URL),
				zap.Int("attempt", e.Attempt),
				zap.Duration("duration", e.Duration),
			}
			if e.Err != nil {
				logger.Warn("introspection attempt failed", append(fields, zap.Error(e.Err))...)
				return
			}
			logger.Info("introspected remote schema", fields...)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func requestID(ctx context.Context) zap.Field {
	rid, _ := reqid.FromContext(ctx)
	return zap.String("request_id", rid)
}
