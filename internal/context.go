package internal

import "context"

type ctxKey string

const (
	ContextUserKey  ctxKey = "userID"
	ContextTraceKey ctxKey = "traceID"
)

// TraceHeader carries the trace id on inbound requests and on calls to downstream services.
const TraceHeader = "X-Trace-ID"

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(ContextUserKey).(string); ok {
		return userID
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextUserKey, userID)
}

// TraceIDFromContext returns the trace id of the request that started the work, or "".
// Event handlers see it too because the bus keeps request values.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ContextTraceKey).(string); ok {
		return traceID
	}
	return ""
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, ContextTraceKey, traceID)
}
