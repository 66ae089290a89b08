// Package llmerrors classifies errors returned by model backends. Classification is reported
// to the user; retries are never automatic.
package llmerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType is the category of a backend error.
type ErrorType int8

const (
	// ErrorTypeRateLimit is 429 or quota exhaustion.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is 5xx, EOF, connection reset or timeout.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth is 401/403 or a bad API key.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a malformed or oversized request.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified backend error.
type Error struct {
	Err        error     // wrapped underlying error
	Message    string    // human-readable message
	BodyStub   string    // first bytes of the response body
	Type       ErrorType // classified type
	StatusCode int       // HTTP status, 0 when unknown
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of err, or ErrorTypeUnknown when unclassified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// ClassifyStatus maps an HTTP status code to an error type.
func ClassifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		return ErrorTypeBadPrompt
	case statusCode >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyMessage infers a type from error text when no status code is available.
func ClassifyMessage(msg string) ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "quota", "resource_exhausted"):
		return ErrorTypeRateLimit
	case containsAny(lower, "unauthorized", "invalid api key", "invalid x-api-key", "permission denied", "authentication"):
		return ErrorTypeAuth
	case containsAny(lower, "context length", "too long", "maximum context", "invalid_request", "invalid argument"):
		return ErrorTypeBadPrompt
	case containsAny(lower, "eof", "connection reset", "connection refused", "timeout", "deadline exceeded", "unavailable", "overloaded", "broken pipe"):
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Classify wraps err with a type from statusCode, falling back to its text. Already
// classified errors are returned unchanged.
func Classify(err error, statusCode int, bodyStub string) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	errType := ErrorTypeUnknown
	if statusCode > 0 {
		errType = ClassifyStatus(statusCode)
	}
	if errType == ErrorTypeUnknown {
		errType = ClassifyMessage(err.Error())
	}
	if len(bodyStub) > 256 {
		bodyStub = bodyStub[:256]
	}
	return &Error{Err: err, Type: errType, StatusCode: statusCode, BodyStub: bodyStub}
}
