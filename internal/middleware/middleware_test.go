package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/metrics"
)

func newTestMiddleware(t *testing.T, withRedis bool) (*Middleware, *miniredis.Miniredis) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: true, DefaultLimit: 2, DefaultWindow: time.Minute}
	if !withRedis {
		return New(nil, logger.Nop(), cfg), nil
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(&database.Redis{Client: client}, logger.Nop(), cfg), mr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func TestRateLimit(t *testing.T) {
	mw, mr := newTestMiddleware(t, true)
	h := mw.RateLimit(mw.DefaultRateLimit())(okHandler)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, do().Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	mw, mr := newTestMiddleware(t, true)
	mr.Close()
	h := mw.RateLimit(mw.DefaultRateLimit())(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_NoRedis(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	h := mw.RateLimit(mw.DefaultRateLimit())(okHandler)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

type fakeValidator struct {
	enabled bool
}

func (f fakeValidator) Enabled() bool { return f.enabled }

func (f fakeValidator) ValidateToken(token string) (*auth.TokenClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	claims := &auth.TokenClaims{}
	claims.Subject = auth.OperatorSubject
	return claims, nil
}

func TestAuth(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)

	var subject any
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = r.Context().Value(SubjectKey)
	})
	h := mw.Auth(fakeValidator{enabled: true})(inner)

	tests := []struct {
		header string
		status int
		code   string
	}{
		{"", http.StatusUnauthorized, "unauthorized"},
		{"Basic abc", http.StatusUnauthorized, "unauthorized"},
		{"Bearer nope", http.StatusUnauthorized, "token_expired"},
		{"bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, tt.header)
		if tt.code != "" {
			assert.Contains(t, rec.Body.String(), tt.code)
		}
	}
	assert.Equal(t, auth.OperatorSubject, subject)
}

func TestAuth_Disabled(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	h := mw.Auth(fakeValidator{enabled: false})(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	mw := New(nil, logger.NewWithWriter(&buf, "info", "json"), &config.Config{})
	h := mw.Recover(mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	before := testutil.ToFloat64(metrics.HTTPPanics)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/send", nil)
	req.Header.Set("X-Request-ID", "req-panic")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_server_error")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HTTPPanics))
	assert.Contains(t, buf.String(), `"request_id":"req-panic"`)
	assert.Contains(t, buf.String(), `"route":"POST /api/v1/send"`)
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	h := mw.Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	mw := New(nil, logger.NewWithWriter(&buf, "info", "json"), &config.Config{})

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	h := mw.RequestID(mw.Timing(mw.Logger(inner)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/send", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"status":202`)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEmpty(t, seen)
	assert.Len(t, seen, 36)
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	h := mw.CORS([]string{"http://localhost:5173"})(mw.SecurityHeaders(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/send", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
