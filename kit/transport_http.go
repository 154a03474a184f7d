package kit

import (
	"encoding/json"
	"errors"
	"net/http"
)

// StatusError carries an HTTP status through an Endpoint error.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// BadRequest wraps err as a 400.
func BadRequest(err error) error { return &StatusError{Code: http.StatusBadRequest, Err: err} }

// HTTPHandler exposes endpoint over HTTP. decode builds the request from the
// incoming *http.Request; the response is written as JSON.
func HTTPHandler(endpoint Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		ctx := WithTransport(r.Context(), "http")
		if id := r.Header.Get("X-Request-Id"); id != "" {
			ctx = WithRequestID(ctx, id)
		}

		resp, err := endpoint(ctx, req)
		if err != nil {
			code := http.StatusInternalServerError
			var se *StatusError
			if errors.As(err, &se) {
				code = se.Code
			}
			WriteJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
