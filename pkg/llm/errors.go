package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidProvider       = errors.New("invalid provider")
	ErrInvalidAPIKey         = errors.New("invalid or missing API key")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrModelNotFound         = errors.New("model not found")
	ErrContextLengthExceeded = errors.New("context length exceeded")
	ErrTimeout               = errors.New("request timeout")
	ErrServiceUnavailable    = errors.New("service unavailable")
	ErrUnknown               = errors.New("unknown error")
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeInvalidRequest        ErrorType = "invalid_request"
	ErrorTypeAuthentication        ErrorType = "authentication"
	ErrorTypeRateLimit             ErrorType = "rate_limit"
	ErrorTypeModelNotFound         ErrorType = "model_not_found"
	ErrorTypeContextLengthExceeded ErrorType = "context_length_exceeded"
	ErrorTypeTimeout               ErrorType = "timeout"
	ErrorTypeServiceUnavailable    ErrorType = "service_unavailable"
	ErrorTypeUnknown               ErrorType = "unknown"
)

var sentinels = map[ErrorType]error{
	ErrorTypeInvalidRequest:        ErrInvalidRequest,
	ErrorTypeAuthentication:        ErrInvalidAPIKey,
	ErrorTypeRateLimit:             ErrRateLimitExceeded,
	ErrorTypeModelNotFound:         ErrModelNotFound,
	ErrorTypeContextLengthExceeded: ErrContextLengthExceeded,
	ErrorTypeTimeout:               ErrTimeout,
	ErrorTypeServiceUnavailable:    ErrServiceUnavailable,
}

// Error is a provider failure mapped onto a small set of types, so callers
// such as the intent classifier can decide whether to retry or fall back.
type Error struct {
	Type     ErrorType
	Message  string
	Provider Provider

	// StatusCode is the HTTP status, 0 when the request never got a response
	StatusCode    int
	OriginalError error
}

func (e *Error) Error() string {
	if e.OriginalError != nil {
		return fmt.Sprintf("%s error from %s: %s (original: %v)",
			e.Type, e.Provider, e.Message, e.OriginalError)
	}
	return fmt.Sprintf("%s error from %s: %s", e.Type, e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.OriginalError
}

// Is matches the sentinel for the error's type
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Type]; ok {
		return target == s
	}
	return target == ErrUnknown
}

// NewError creates a new LLM error
func NewError(provider Provider, errType ErrorType, message string, originalErr error) *Error {
	return &Error{
		Type:          errType,
		Message:       message,
		Provider:      provider,
		OriginalError: originalErr,
	}
}

// TypeForStatus maps an HTTP status code from a provider API to an ErrorType
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusNotFound:
		return ErrorTypeModelNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeServiceUnavailable
	case status >= 400:
		return ErrorTypeInvalidRequest
	default:
		return ErrorTypeUnknown
	}
}

// NewStatusError builds an error from an HTTP status returned by a provider
func NewStatusError(provider Provider, status int, message string, originalErr error) *Error {
	e := NewError(provider, TypeForStatus(status), message, originalErr)
	e.StatusCode = status
	return e
}

// FromTransport maps errors raised before any response arrived. Context
// expiry becomes a timeout; everything else is unknown.
func FromTransport(provider Provider, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(provider, ErrorTypeTimeout, "request timeout", err)
	}
	return NewError(provider, ErrorTypeUnknown, err.Error(), err)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeServiceUnavailable:
			return true
		}
	}
	return false
}
