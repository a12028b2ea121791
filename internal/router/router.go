package router

import (
	"net/http"
	"time"

	"github.com/mailpilot/mailpilot/internal/handler"
	"github.com/mailpilot/mailpilot/internal/metrics"
	"github.com/mailpilot/mailpilot/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, tokens middleware.TokenValidator, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"MailPilot API v1","version":"` + handler.Version + `"}`))
	})

	// Login is rate limited separately from the rest of the API
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  5,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("POST /api/v1/auth/token", loginRateLimit(http.HandlerFunc(h.IssueToken)))

	authMw := mw.Auth(tokens)
	apiRateLimit := mw.RateLimit(mw.DefaultRateLimit())
	protect := func(fn http.HandlerFunc) http.Handler {
		return authMw(apiRateLimit(fn))
	}

	// Senders and recipients
	mux.Handle("GET /api/v1/senders", protect(h.Senders))
	mux.Handle("GET /api/v1/recipients/sheets", protect(h.SheetsRecipients))
	mux.Handle("POST /api/v1/recipients/upload", protect(h.UploadRecipients))
	mux.Handle("POST /api/v1/recipients/manual", protect(h.ManualRecipients))
	mux.Handle("GET /api/v1/recipients/current", protect(h.CurrentRecipients))
	mux.Handle("POST /api/v1/recipients/clear", protect(h.ClearRecipients))

	// Job control
	mux.Handle("POST /api/v1/preview", protect(h.Preview))
	mux.Handle("POST /api/v1/send", protect(h.Send))
	mux.Handle("POST /api/v1/stop", protect(h.Stop))
	mux.Handle("POST /api/v1/reset", protect(h.Reset))
	mux.Handle("GET /api/v1/status", protect(h.Status))
	mux.Handle("GET /api/v1/log", protect(h.Log))
	mux.Handle("POST /api/v1/log/clear", protect(h.ClearLog))

	// Apply middleware stack
	var handler http.Handler = mux

	handler = mw.CORS(allowedOrigins)(handler)
	handler = mw.SecurityHeaders(handler)
	handler = mw.Logger(handler)
	handler = mw.Timing(handler)
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
