package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mailpilot/mailpilot/internal/auth"
)

// SubjectKey holds the token subject of an authenticated request
const SubjectKey contextKey = "subject"

// TokenValidator checks bearer tokens
type TokenValidator interface {
	Enabled() bool
	ValidateToken(token string) (*auth.TokenClaims, error)
}

// Auth requires a valid operator token when authentication is enabled
func (m *Middleware) Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokens.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			var tokenString string
			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
					tokenString = strings.TrimSpace(parts[1])
				}
			}

			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			claims, err := tokens.ValidateToken(tokenString)
			if err != nil {
				m.log.Debug().Err(err).Msg("token validation failed")
				writeError(w, http.StatusUnauthorized, "token_expired", "The access token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
