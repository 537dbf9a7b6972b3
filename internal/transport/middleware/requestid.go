package middleware

import (
	"net/http"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/pkg/logger"
	"github.com/go-chi/chi/middleware"

	"github.com/google/uuid"
)

const TraceHeader = internal.TraceHeader

// RequestID reuses the caller's trace id, then chi's request id, and mints one otherwise.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = middleware.GetReqID(r.Context())
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := internal.ContextWithTraceID(r.Context(), traceID)
		ctx = logger.With(ctx, "traceID", traceID)

		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
