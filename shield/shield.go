// Package shield holds the HTTP middleware in front of the annotation API.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger, 16<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// APIStack returns the middleware of the JSON API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func APIStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
		RequestID(logger),
	}
}
