package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type sessionCtxKey struct{}
type conversationCtxKey struct{}
type taskTypeCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if sid, ok := SessionIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("session.id", sid))
	}
	if cid := ConversationIDFromContext(ctx); cid != "" {
		fields = append(fields, zap.String("conversation.id", cid))
	}
	if tt := TaskTypeFromContext(ctx); tt != "" {
		fields = append(fields, zap.String("task.type", tt))
	}
	return fields
}

// WithRunID adds the run id to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the run id from context.
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runCtxKey{}).(string)
	return s
}

// WithSessionID adds the numeric session id to context.
func WithSessionID(ctx context.Context, sessionID int64) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext extracts the session id from context.
func SessionIDFromContext(ctx context.Context) (int64, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(int64)
	return s, ok
}

// WithConversationID adds the conversation id to context.
// Empty ids are ignored.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationCtxKey{}, conversationID)
}

// ConversationIDFromContext extracts the conversation id from context.
func ConversationIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(conversationCtxKey{}).(string)
	return s
}

// WithTaskType adds the task type to context.
func WithTaskType(ctx context.Context, taskType string) context.Context {
	if taskType == "" {
		return ctx
	}
	return context.WithValue(ctx, taskTypeCtxKey{}, taskType)
}

// TaskTypeFromContext extracts the task type from context.
func TaskTypeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(taskTypeCtxKey{}).(string)
	return s
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
