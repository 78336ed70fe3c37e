package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrEmptyResponse  ErrorType = "empty_response_error"
	ErrProvider       ErrorType = "provider_error"
)

// Error represents an API error from Gemini.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gemini: %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying client error.
func (e *Error) Unwrap() error { return e.cause }

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// mapError converts a genai client error into an *Error. Context errors pass
// through unchanged so callers can tell timeouts from API failures.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Type: ErrProvider, Message: err.Error(), cause: err}
	}

	out := &Error{
		Message:    apiErr.Message,
		Code:       apiErr.Status,
		StatusCode: apiErr.Code,
		cause:      err,
	}
	switch apiErr.Code {
	case 400:
		out.Type = ErrInvalidRequest
	case 401:
		out.Type = ErrAuthentication
	case 403:
		out.Type = ErrPermission
	case 404:
		out.Type = ErrNotFound
	case 429:
		out.Type = ErrRateLimit
	case 503:
		out.Type = ErrOverloaded
	default:
		if apiErr.Code >= 500 {
			out.Type = ErrAPI
		} else {
			out.Type = ErrProvider
		}
	}
	return out
}
