package catfleet

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BaseURL rewrites relative request targets into absolute ones against a
// configured origin on the way into the stack, so endpoint methods can
// address the API with paths like "/my/ships?limit=20".
type BaseURL struct {
	base  *url.URL
	inner Service
}

// NewBaseURL wraps inner with base-URL rewriting. The base is immutable
// after construction.
func NewBaseURL(inner Service, base *url.URL) *BaseURL {
	return &BaseURL{base: base, inner: inner}
}

// Ready implements Service by deferring to the inner layer.
func (b *BaseURL) Ready() (bool, <-chan time.Time) {
	return b.inner.Ready()
}

// Call implements Service.
func (b *BaseURL) Call(req *http.Request) (*http.Response, error) {
	req.URL = rewriteBaseURL(b.base, req.URL)
	return b.inner.Call(req)
}

// rewriteBaseURL combines a configured base with an incoming target:
// scheme and authority fall back from the target to the base; when the
// base defines a path prefix, the target's path is prefixed with it
// unless it already starts with the prefix (trailing slash stripped),
// which prevents double-prefixing. A target with no path at all takes
// the base's path and query verbatim.
func rewriteBaseURL(base, input *url.URL) *url.URL {
	out := &url.URL{
		Scheme:   input.Scheme,
		Host:     input.Host,
		Path:     input.Path,
		RawQuery: input.RawQuery,
	}
	if out.Scheme == "" {
		out.Scheme = base.Scheme
	}
	if out.Host == "" {
		out.Host = base.Host
	}

	if base.Path == "" {
		return out
	}

	if input.Path == "" && input.RawQuery == "" {
		out.Path = base.Path
		out.RawQuery = base.RawQuery
		return out
	}

	prefix := strings.TrimSuffix(base.Path, "/")
	if !strings.HasPrefix(input.Path, prefix) {
		out.Path = prefix + input.Path
	}
	return out
}
