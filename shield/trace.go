package shield

import (
	"log/slog"
	"net/http"

	"github.com/hazyhaar/alttext/idgen"
	"github.com/hazyhaar/alttext/kit"
)

// RequestID reuses the caller's X-Request-Id or generates one, echoes it in
// the response and stores it in the context for kit endpoints.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = idgen.New()
			}
			w.Header().Set("X-Request-Id", id)

			logger.Debug("shield: request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			next.ServeHTTP(w, r.WithContext(kit.WithRequestID(r.Context(), id)))
		})
	}
}
