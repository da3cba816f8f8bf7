package servicenow

import (
	"errors"
	"fmt"
)

// Kind classifies ServiceNow client errors for routing and retry decisions.
type Kind string

const (
	// KindAuth indicates authentication failure (401 or 403)
	KindAuth Kind = "auth"

	// KindNotFound indicates the requested record does not exist (404)
	KindNotFound Kind = "not_found"

	// KindRateLimited indicates the instance throttled the request (429)
	KindRateLimited Kind = "rate_limited"

	// KindAPI indicates any other HTTP error from the Table API,
	// or a success response whose body could not be decoded
	KindAPI Kind = "api"

	// KindConnection indicates a network-level failure (DNS, refused, reset)
	KindConnection Kind = "connection"

	// KindTimeout indicates the request or a dial exceeded its deadline
	KindTimeout Kind = "timeout"

	// KindValidation indicates the request was rejected before any
	// network attempt (bad input, client not open, missing credentials)
	KindValidation Kind = "validation"
)

// maxBodyInError bounds how much of a response body an Error carries.
const maxBodyInError = 500

// Error is the single failure type returned by the client. Every failed
// logical request surfaces exactly one of these; callers switch on Kind
// rather than unwrapping a class hierarchy.
type Error struct {
	// Kind classifies the failure
	Kind Kind

	// StatusCode is the HTTP status, zero for non-HTTP failures
	StatusCode int

	// Message is safe to show to end users
	Message string

	// Details carries supporting context (truncated response body or
	// underlying error text); may be empty
	Details string

	// RetryAfter is the server-suggested wait in seconds for
	// rate-limited errors, zero when the server gave no usable hint
	RetryAfter float64

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("servicenow: %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("servicenow: %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether the error is of the given kind.
func (e *Error) IsKind(k Kind) bool {
	return e.Kind == k
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// truncateBody trims a response body for inclusion in an Error.
func truncateBody(body []byte) string {
	if len(body) > maxBodyInError {
		return string(body[:maxBodyInError])
	}
	return string(body)
}

// validationError builds a KindValidation error; no network attempt was made.
func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// statusError maps a fatal HTTP status to its typed error.
func statusError(status int, body []byte) *Error {
	switch {
	case status == 401 || status == 403:
		return &Error{
			Kind:       KindAuth,
			StatusCode: status,
			Message:    fmt.Sprintf("Authentication failed (%d)", status),
			Details:    truncateBody(body),
		}
	case status == 404:
		return &Error{
			Kind:       KindNotFound,
			StatusCode: status,
			Message:    "Resource not found (404)",
			Details:    truncateBody(body),
		}
	default:
		return &Error{
			Kind:       KindAPI,
			StatusCode: status,
			Message:    fmt.Sprintf("ServiceNow API error (%d)", status),
			Details:    truncateBody(body),
		}
	}
}
