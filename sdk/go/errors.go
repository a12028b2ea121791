package mailpilot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError represents an error response from the MailPilot API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailpilot: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// apiErrorWrapper matches the MailPilot API error envelope.
type apiErrorWrapper struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       wrapper.Error.Code,
			Message:    wrapper.Error.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsConflict reports whether err means a job is already running.
func IsConflict(err error) bool {
	apiErr, ok := IsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusConflict
}

// IsUnauthorized reports whether err means the token is missing or expired.
func IsUnauthorized(err error) bool {
	apiErr, ok := IsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}
