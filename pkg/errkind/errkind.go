// Package errkind classifies failures of the assistant core into the kinds surfaced to the UI.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the category reported alongside a failed task or queue entry.
type Kind int8

const (
	// Internal covers unexpected faults, including recovered panics.
	Internal Kind = iota
	// BudgetExceeded means the context could not fit even after truncation.
	BudgetExceeded
	// TransportError means the model backend was unreachable or returned a malformed stream.
	TransportError
	// StageFailure means a workflow stage received an unusable response.
	StageFailure
	// MatchNotFound means no region of the file resembles the edit anchor.
	MatchNotFound
	// LowConfidenceMatch means a region was found but below the acceptance threshold.
	LowConfidenceMatch
	// Busy means a task was requested while another is running.
	Busy
	// InvalidRequest means the request itself was malformed.
	InvalidRequest
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case BudgetExceeded:
		return "budget_exceeded"
	case TransportError:
		return "transport_error"
	case StageFailure:
		return "stage_failure"
	case MatchNotFound:
		return "match_not_found"
	case LowConfidenceMatch:
		return "low_confidence_match"
	case Busy:
		return "busy"
	case InvalidRequest:
		return "invalid_request"
	default:
		return "invalid"
	}
}

// Error is a classified failure.
type Error struct {
	Err     error
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Err: cause, Message: message}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Of returns the kind of err, or Internal when it is unclassified.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the human-readable part of err without the kind prefix.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}
