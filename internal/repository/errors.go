package repository

import "errors"

// Common repository errors
var (
	ErrInvalidStatus = errors.New("invalid delivery status")
	ErrInvalidInput  = errors.New("invalid input")
)
