package transport

import (
	"errors"
	"fmt"
)

// ErrAborted is returned when a stream is cancelled through its context or
// Close. It is not a failure: callers treat it as a cancelled session.
var ErrAborted = errors.New("stream aborted")

// Error is a transport level failure: a non-2xx status, an absent body or a
// network error. It ends the session.
type Error struct {
	// Status is the HTTP status code, zero when no response was received.
	Status int `json:"status,omitempty"`

	// StatusText is the reason phrase that accompanied Status.
	StatusText string `json:"status_text,omitempty"`

	// Reason describes failures that carry no status, such as "empty body".
	Reason string `json:"reason,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.StatusText != "":
		return fmt.Sprintf("transport: status %d %s", e.Status, e.StatusText)
	case e.Status != 0:
		return fmt.Sprintf("transport: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	default:
		return "transport: " + e.Reason
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newStatusError(status int, statusText string) *Error {
	return &Error{Status: status, StatusText: statusText}
}

func newReasonError(reason string, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// IsAborted reports whether err represents a cancellation rather than a failure.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
