package catfleet

import (
	"net/http"
	"time"
)

// ExtraHeaders appends a fixed, ordered list of header name/value pairs
// (the bearer credential, then any static extras) to every outgoing
// request. Injection is purely additive: headers already present are
// never removed or overwritten, and duplicate instances are preserved
// with multi-value semantics.
type ExtraHeaders struct {
	headers []Header
	inner   Service
}

// NewExtraHeaders wraps inner with fixed-header injection.
func NewExtraHeaders(inner Service, headers []Header) *ExtraHeaders {
	return &ExtraHeaders{headers: headers, inner: inner}
}

// Ready implements Service by deferring to the inner layer.
func (e *ExtraHeaders) Ready() (bool, <-chan time.Time) {
	return e.inner.Ready()
}

// Call implements Service.
func (e *ExtraHeaders) Call(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for _, h := range e.headers {
		req.Header.Add(h.Name, h.Value)
	}
	return e.inner.Call(req)
}
