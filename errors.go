package catfleet

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/http2"
)

// Sentinel errors for transport failure classification. Test doubles and
// custom session implementations may wrap these to steer the connection
// manager's recovery loop.
var (
	// ErrTransportClosed marks a dispatch failure caused by the session
	// itself being closed; the manager reconnects and retries.
	ErrTransportClosed = errors.New("catfleet: transport closed")

	// ErrStreamCanceled marks a mid-flight stream reset that does not
	// indicate transport death; the manager retries on the same session.
	ErrStreamCanceled = errors.New("catfleet: stream canceled")
)

// Error type identifiers used in ClientError.Type.
const (
	ErrorTypeConfig    = "Config"
	ErrorTypeConnect   = "Connect"
	ErrorTypeTransport = "Transport"
	ErrorTypeCanceled  = "Canceled"
)

// ClientError is the terminal error surfaced to callers of the dispatch
// stack.
type ClientError struct {
	Type      string
	Message   string
	Cause     error
	RequestID string
	Method    string
	URL       string
	Attempts  int
	Timestamp time.Time
	Duration  time.Duration
	Endpoint  string
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether an error represents a failure the stack
// recovers from on its own. Callers normally never see these; a transient
// error escaping to the caller means a recovery bound (WithMaxReconnects,
// WithStreamRetryLimit) cut the loop short.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrStreamCanceled) {
		return true
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrorTypeConnect
	}
	return false
}

// isStreamCanceled classifies a dispatch error as an individual stream
// reset: retryable against the same session.
func isStreamCanceled(err error) bool {
	if errors.Is(err, ErrStreamCanceled) {
		return true
	}
	var se http2.StreamError
	if errors.As(err, &se) {
		return se.Code == http2.ErrCodeCancel
	}
	return false
}

// isTransportClosed classifies a dispatch error as the session itself
// having died: the manager replaces it and retries.
func isTransportClosed(err error) bool {
	if errors.Is(err, ErrTransportClosed) {
		return true
	}
	var ga http2.GoAwayError
	if errors.As(err, &ga) {
		return true
	}
	var ce http2.ConnectionError
	return errors.As(err, &ce)
}
