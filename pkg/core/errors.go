package core

import (
	"errors"
	"fmt"
)

// ErrorType is the coarse category reported in the "type" field of an API
// error body. It selects the HTTP status.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrCapability     ErrorType = "capability_error"
)

// Codes for plan caps and tenancy checks.
const (
	CodeJobLimit       = "job_limit_reached"
	CodeCandidateLimit = "candidate_limit_reached"
	CodeCompanyScope   = "company_mismatch"
)

// Error is the canonical failure returned across the REST surface and by the
// reasoning engine.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return string(e.Type) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by Type, and by Code when the target sets one.
// errors.Is(err, &Error{Type: ErrPermission, Code: CodeJobLimit}) is the
// usual form.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// IsRetryable reports whether the caller may retry the same request.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrRateLimit || e.Type == ErrAPI || e.Type == ErrCapability
}

func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewPermissionError reports a refused action with a machine-readable code.
func NewPermissionError(message, code string) *Error {
	return &Error{Type: ErrPermission, Message: message, Code: code}
}

// NewJobLimitError reports that a company has used every job slot its plan
// allows.
func NewJobLimitError(plan string, max int) *Error {
	return NewPermissionError(fmt.Sprintf("plan %s allows %d jobs", plan, max), CodeJobLimit)
}

// NewCandidateLimitError reports that adding candidates would exceed the
// per-job cap frozen on the posting.
func NewCandidateLimitError(plan string, max int) *Error {
	return NewPermissionError(fmt.Sprintf("plan %s allows %d candidates per job", plan, max), CodeCandidateLimit)
}

func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// NewCapabilityError wraps a failure of the external reasoning capability.
func NewCapabilityError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrCapability,
		Message: fmt.Sprintf("%s: %v", provider, underlying),
		Cause:   underlying,
	}
}

// IsPlanLimit reports whether err is a job or candidate cap refusal.
func IsPlanLimit(err error) bool {
	return errors.Is(err, &Error{Type: ErrPermission, Code: CodeJobLimit}) ||
		errors.Is(err, &Error{Type: ErrPermission, Code: CodeCandidateLimit})
}
