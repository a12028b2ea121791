package middleware

import (
	"net/http"
	"time"

	"github.com/mailpilot/mailpilot/internal/metrics"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger logs HTTP requests and counts them
func (m *Middleware) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := GetStartTime(r.Context())
		wrapped := newResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		m.log.WithRequestID(GetRequestID(r.Context())).
			HTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, duration, IPKey(r))
		metrics.ObserveHTTP(r.Method, wrapped.statusCode)
	})
}
