package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/mailpilot/mailpilot/internal/metrics"
)

// Recover turns a handler panic into a 500 envelope. It wraps RequestID, so
// the id is taken from the response header the inner middleware already set.
// A panic inside the send worker never reaches here; the scheduler recovers
// those and ends the job as errored.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			metrics.HTTPPanics.Inc()
			m.log.WithRequestID(w.Header().Get("X-Request-ID")).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", r.Method+" "+r.URL.Path).
				Msg("control API handler panicked")

			writeError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}()

		next.ServeHTTP(w, r)
	})
}
