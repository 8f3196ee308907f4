package log

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type correlationIDType int

const (
	requestIDKey correlationIDType = iota
	requestFieldsKey
)

// WithRequestID returns a context which knows its request ID.
// A request ID tracks the lifecycle of a single request across goroutines, e.g. a
// synchronization with a peer from scheduling to completion. Optional fields are
// attached to every contextual log line.
func WithRequestID(ctx context.Context, requestID string, fields ...zap.Field) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	if len(fields) > 0 {
		ctx = context.WithValue(ctx, requestFieldsKey, fields)
	}
	return ctx
}

// WithNewRequestID does the same thing as WithRequestID but generates a new, random request ID.
func WithNewRequestID(ctx context.Context, fields ...zap.Field) context.Context {
	return WithRequestID(ctx, uuid.NewString(), fields...)
}

// ExtractRequestID extracts the request id from a context object.
func ExtractRequestID(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id, true
	}
	return "", false
}

// ZContext returns a field with the request id and fields stored in the context.
// It returns zap.Skip() if the context carries none.
func ZContext(ctx context.Context) zap.Field {
	id, ok := ExtractRequestID(ctx)
	if !ok {
		return zap.Skip()
	}
	fields, _ := ctx.Value(requestFieldsKey).([]zap.Field)
	return zap.Inline(contextFields{id: id, fields: fields})
}
