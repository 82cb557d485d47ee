package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/enrich/internal/api/shared"
	"github.com/phrazzld/enrich/internal/platform/logger"
)

// NewTraceMiddleware tags every request with a trace ID. The ID is echoed in
// the X-Trace-ID header, and a logger carrying it is stored in the request
// context for handlers to pick up with logger.FromContext.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set(shared.TraceIDHeader, traceID)
			next.ServeHTTP(w, r.WithContext(logger.WithLogger(ctx, log)))
		})
	}
}
