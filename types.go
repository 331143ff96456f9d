package catfleet

import (
	"net/http"
	"time"
)

// Service is the call capability implemented by every layer of the
// dispatch stack, including the transport itself. It is a two-phase
// protocol: a non-blocking readiness check followed by a call.
//
// Ready reports whether a call may be dispatched right now. When it
// returns false, the second value is a wake channel that fires when
// readiness should be polled again; waiting on it is how backpressure is
// honored without busy-spinning.
//
// Call dispatches one request. A gating layer's Call is valid only
// immediately after observing Ready() == true; calling it otherwise is a
// programming error in the composition and panics rather than being
// defended against.
type Service interface {
	Ready() (bool, <-chan time.Time)
	Call(req *http.Request) (*http.Response, error)
}

// Rate is a token budget of Count calls per Period. Both fields must be
// positive; the composition root rejects anything else at construction.
type Rate struct {
	Count  int
	Period time.Duration
}

// valid reports whether the rate can be enforced.
func (r Rate) valid() bool {
	return r.Count > 0 && r.Period > 0
}

// Header is one fixed name/value pair injected into every outgoing
// request.
type Header struct {
	Name  string
	Value string
}

// Option represents a configuration option for New.
type Option func(*Client)
