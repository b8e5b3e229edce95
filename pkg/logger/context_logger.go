package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const (
	ctxKeyTraceID ctxKey = iota
	ctxKeyRoomID
	ctxKeyUserID
)

// ContextWithTraceID attaches a trace identifier for log correlation.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// ContextWithParticipant attaches the room and user a call acts on behalf of.
func ContextWithParticipant(ctx context.Context, roomID, userID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRoomID, roomID)
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// ContextLogger annotates log entries with whatever identity the context
// carries, so deep call sites report who they were working for.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext returns a logger carrying the context's identity fields.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	var fields []zapcore.Field

	if traceID, ok := ctx.Value(ctxKeyTraceID).(string); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if roomID, ok := ctx.Value(ctxKeyRoomID).(string); ok {
		fields = append(fields, zap.String("room_id", roomID))
	}
	if userID, ok := ctx.Value(ctxKeyUserID).(string); ok {
		fields = append(fields, zap.String("user_id", userID))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError adds an error field.
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}
