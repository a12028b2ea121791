package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/logger"
)

const (
	loginFailuresKey = "mailpilot:login:failures"
	maxLoginFailures = 5
	loginLockout     = 15 * time.Minute
)

// ErrLoginLocked is returned after too many failed logins
var ErrLoginLocked = errors.New("too many failed logins, try again later")

// AuthService checks the operator password and issues API tokens
type AuthService struct {
	cfg    config.SecurityConfig
	tokens *auth.TokenService
	rdb    *database.Redis
	log    *logger.Logger
}

// NewAuthService creates a new AuthService. tokens is nil when authentication
// is disabled; rdb may be nil, which turns off login lockout.
func NewAuthService(cfg config.SecurityConfig, tokens *auth.TokenService, rdb *database.Redis, log *logger.Logger) *AuthService {
	return &AuthService{
		cfg:    cfg,
		tokens: tokens,
		rdb:    rdb,
		log:    log.WithComponent("auth_service"),
	}
}

// Enabled reports whether the control API requires a token
func (s *AuthService) Enabled() bool {
	return s.cfg.AuthEnabled() && s.tokens != nil
}

// Login verifies the operator password and returns a signed token
func (s *AuthService) Login(ctx context.Context, password string) (*auth.IssuedToken, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	if s.locked(ctx) {
		s.log.Warn().Msg("login refused, lockout active")
		return nil, ErrLoginLocked
	}

	ok, err := auth.VerifyPassword(password, s.cfg.OperatorPasswordHash)
	if err != nil {
		s.log.Error().Err(err).Msg("operator password hash is unusable")
		return nil, err
	}
	if !ok {
		s.recordFailure(ctx)
		return nil, ErrBadPassword
	}

	if s.rdb != nil {
		if err := s.rdb.Delete(ctx, loginFailuresKey); err != nil {
			s.log.Warn().Err(err).Msg("failed to reset login failures")
		}
	}

	token, err := s.tokens.Issue()
	if err != nil {
		return nil, err
	}
	s.log.Info().Msg("operator logged in")
	return token, nil
}

// ValidateToken checks a bearer token
func (s *AuthService) ValidateToken(token string) (*auth.TokenClaims, error) {
	if s.tokens == nil {
		return nil, ErrAuthDisabled
	}
	return s.tokens.Validate(token)
}

func (s *AuthService) locked(ctx context.Context) bool {
	if s.rdb == nil {
		return false
	}
	raw, err := s.rdb.GetString(ctx, loginFailuresKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("failed to read login failures")
		}
		return false
	}
	n, _ := strconv.Atoi(raw)
	return n >= maxLoginFailures
}

func (s *AuthService) recordFailure(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	n, err := s.rdb.CountWithin(ctx, loginFailuresKey, loginLockout)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to count login failure")
		if n == 0 {
			return
		}
	}
	s.log.Warn().Int64("failures", n).Msg("operator login failed")
}
