package service

import "errors"

// Common service errors
var (
	ErrJobRunning    = errors.New("a send job is already running")
	ErrNoRecipients  = errors.New("no recipients loaded, load recipients first")
	ErrUnknownSender = errors.New("unknown sender")
	ErrInvalidSource = errors.New("unknown recipient source")
	ErrAuthDisabled  = errors.New("operator authentication is not configured")
	ErrBadPassword   = errors.New("invalid password")
)
