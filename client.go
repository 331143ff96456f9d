package catfleet

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultOrigin is the API origin used when no WithOrigin option is
// given.
const DefaultOrigin = "https://api.spacetraders.io/v2/"

// Client is the composition root of the dispatch stack. It wraps the
// layers innermost-first — connection manager, rate limiter, header
// injection, base-URL rewriting — and exposes them as one opaque call
// capability. A single Client maintains a single HTTP/2 session to a
// single origin.
//
// Client is safe for concurrent use: the readiness-then-call pair is
// serialized, so at most one call proceeds through the gating logic at a
// time and calls issued sequentially are processed in invocation order.
type Client struct {
	mu sync.Mutex

	rawOrigin    string
	origin       *url.URL
	defaultRate  Rate
	burstRate    Rate
	token        string
	extraHeaders []Header
	userAgent    string
	tlsConfig    *tls.Config
	policy       reconnectPolicy

	stack   Service
	limiter *RateLimiter
	conn    *ConnManager

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig
}

// New constructs a Client from the provided functional options and
// validates the configuration. Invalid origin or non-positive rates are
// construction-fatal; nothing is retried at this level. The network
// session itself is established lazily on the first call.
func New(options ...Option) (*Client, error) {
	c := &Client{
		rawOrigin:   DefaultOrigin,
		defaultRate: Rate{Count: 2, Period: time.Second},
		burstRate:   Rate{Count: 30, Period: time.Minute},
		userAgent:   defaultUserAgent(),
		debug:       DefaultDebugConfig(),
	}

	for _, option := range options {
		option(c)
	}

	if err := c.validateConfiguration(); err != nil {
		return nil, err
	}

	c.conn = NewConnManager(c.origin, c.tlsConfig, c.userAgent, c.policy, c.logger, c.debug, c.metrics)
	c.limiter = NewRateLimiter(c.conn, c.defaultRate, c.burstRate)
	c.stack = NewBaseURL(NewExtraHeaders(c.limiter, c.injectedHeaders()), c.origin)

	return c, nil
}

// injectedHeaders is the fixed, ordered header list: the bearer
// credential first, then the static extras.
func (c *Client) injectedHeaders() []Header {
	headers := make([]Header, 0, len(c.extraHeaders)+1)
	if c.token != "" {
		headers = append(headers, Header{Name: "Authorization", Value: "Bearer " + c.token})
	}
	return append(headers, c.extraHeaders...)
}

// Get issues a GET through the stack. The target may be relative to the
// configured origin.
func (c *Client) Get(ctx context.Context, target string) (*http.Response, error) {
	return c.Call(ctx, http.MethodGet, target, nil, nil)
}

// Post issues a POST with the given content type through the stack.
func (c *Client) Post(ctx context.Context, target, contentType string, body io.Reader) (*http.Response, error) {
	headers := http.Header{"Content-Type": []string{contentType}}
	return c.Call(ctx, http.MethodPost, target, headers, body)
}

// Call issues one request through the stack: method, relative or
// absolute target, optional headers, opaque body. The endpoint layer
// above owns JSON encoding and status interpretation; none of that
// happens here.
func (c *Client) Call(ctx context.Context, method, target string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return c.Do(req)
}

// Do executes a prepared request through the full stack. It blocks while
// the stack reports not-ready (waiting on the limiter's refill timer, or
// the request context) and then performs exactly one logical call. The
// caller observes either a response or one terminal error; reconnects
// and stream retries in between surface only as latency.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "target", req.URL.String())
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	for {
		ready, wake := c.stack.Ready()
		if ready {
			break
		}
		if wake == nil {
			panic("catfleet: layer reported not-ready without a wake signal")
		}
		if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
			c.logger.Debug("Rate limited; waiting for refill", "requestID", requestID, "endpoint", endpoint)
		}
		select {
		case <-req.Context().Done():
			if c.metrics != nil {
				c.metrics.RecordRequestEnd(req.Method, endpoint)
				c.metrics.RecordError(ErrorTypeCanceled, req.Method, endpoint)
			}
			return nil, req.Context().Err()
		case <-wake:
		}
	}

	resp, err := c.stack.Call(req)

	if c.metrics != nil {
		c.metrics.RecordRateLimiterTokens("default", c.limiter.remaining)
		c.metrics.RecordRequestEnd(req.Method, endpoint)

		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))
		if err != nil {
			c.metrics.RecordError(errorType(err), req.Method, endpoint)
		}
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		if err != nil {
			c.logger.Warn("Request failed", "requestID", requestID, "error", err.Error(), "duration", time.Since(start))
		} else {
			c.logger.Debug("Request complete", "requestID", requestID, "status", resp.StatusCode, "duration", time.Since(start))
		}
	}

	return resp, err
}

func errorType(err error) string {
	if clientErr, ok := err.(*ClientError); ok {
		return clientErr.Type
	}
	return ErrorTypeTransport
}

func defaultUserAgent() string {
	return "catfleet/" + strings.TrimPrefix(Version, "v")
}

// getEndpointFromRequest extracts a host+path endpoint label for metrics
// and logging.
func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(req.URL.Host)

	if path := req.URL.Path; path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
