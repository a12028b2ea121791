package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
)

const operatorPassword = "correct horse battery"

func newAuthService(t *testing.T, withRedis bool) *AuthService {
	t.Helper()
	hash, err := auth.HashPassword(operatorPassword, &auth.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)

	cfg := config.SecurityConfig{
		OperatorPasswordHash: hash,
		TokenSecret:          "test-secret",
		Issuer:               "mailpilot-test",
		TokenTTL:             time.Hour,
	}
	tokens, err := auth.NewTokenService(cfg.TokenSecret, cfg.Issuer, cfg.TokenTTL)
	require.NoError(t, err)

	if !withRedis {
		return NewAuthService(cfg, tokens, nil, logger.Nop())
	}
	_, rdb := setupRedis(t)
	return NewAuthService(cfg, tokens, rdb, logger.Nop())
}

func TestAuthService_Login(t *testing.T) {
	s := newAuthService(t, false)
	require.True(t, s.Enabled())

	tok, err := s.Login(context.Background(), operatorPassword)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)

	claims, err := s.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.OperatorSubject, claims.Subject)

	_, err = s.Login(context.Background(), "wrong password!")
	assert.ErrorIs(t, err, ErrBadPassword)
}

func TestAuthService_Disabled(t *testing.T) {
	s := NewAuthService(config.SecurityConfig{}, nil, nil, logger.Nop())
	assert.False(t, s.Enabled())

	_, err := s.Login(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
	_, err = s.ValidateToken("x")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthService_Lockout(t *testing.T) {
	s := newAuthService(t, true)
	ctx := context.Background()

	for i := 0; i < maxLoginFailures; i++ {
		_, err := s.Login(ctx, "wrong password!")
		require.ErrorIs(t, err, ErrBadPassword)
	}

	_, err := s.Login(ctx, operatorPassword)
	assert.ErrorIs(t, err, ErrLoginLocked)
}

func TestAuthService_SuccessResetsFailures(t *testing.T) {
	s := newAuthService(t, true)
	ctx := context.Background()

	for i := 0; i < maxLoginFailures-1; i++ {
		_, err := s.Login(ctx, "wrong password!")
		require.ErrorIs(t, err, ErrBadPassword)
	}
	_, err := s.Login(ctx, operatorPassword)
	require.NoError(t, err)

	_, err = s.Login(ctx, "wrong password!")
	require.ErrorIs(t, err, ErrBadPassword)
	_, err = s.Login(ctx, operatorPassword)
	assert.NoError(t, err)
}
