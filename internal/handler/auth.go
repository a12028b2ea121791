package handler

import (
	"errors"
	"net/http"

	"github.com/mailpilot/mailpilot/internal/service"
)

type tokenRequest struct {
	Password string `json:"password"`
}

// IssueToken exchanges the operator password for a bearer token
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Password is required")
		return
	}

	token, err := h.authSvc.Login(r.Context(), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAuthDisabled):
			writeError(w, http.StatusBadRequest, "auth_disabled", "Operator authentication is not configured")
		case errors.Is(err, service.ErrBadPassword):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "The password is incorrect.")
		case errors.Is(err, service.ErrLoginLocked):
			writeError(w, http.StatusTooManyRequests, "login_locked", "Too many failed logins. Try again later.")
		default:
			h.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, token)
}
