package catfleet

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/catbrained/catfleet/internal/backoff"
)

// WithOrigin sets the origin URL every relative target is rewritten
// against. The scheme, authority and path prefix are taken from it.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.rawOrigin = origin
	}
}

// WithToken sets the bearer credential injected into every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithRates sets the sustained rate and the burst allowance. The burst
// bucket refills on a slower cadence; both buckets credit one shared
// pool capped at defaultRate.Count + burstRate.Count.
func WithRates(defaultRate, burstRate Rate) Option {
	return func(c *Client) {
		c.defaultRate = defaultRate
		c.burstRate = burstRate
	}
}

// WithExtraHeader appends one fixed header injected into every request.
// Injection order follows option order; duplicates are preserved.
func WithExtraHeader(name, value string) Option {
	return func(c *Client) {
		c.extraHeaders = append(c.extraHeaders, Header{Name: name, Value: value})
	}
}

// WithUserAgent overrides the default catfleet/<version> user-agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithTLSConfig sets the TLS client configuration used when dialing the
// origin. ALPN is always forced to h2 regardless.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithMaxReconnects bounds how many replacement sessions one logical
// call may dial. Zero (the default) reproduces the reference behavior of
// reconnecting without limit, a documented liveness risk.
func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		c.policy.maxReconnects = n
	}
}

// WithStreamRetryLimit bounds how often a canceled stream is retried
// within one logical call. Zero (the default) reproduces the reference
// behavior of retrying without limit, a documented liveness risk.
func WithStreamRetryLimit(n int) Option {
	return func(c *Client) {
		c.policy.streamRetryLimit = n
	}
}

// WithReconnectBackoff paces replacement dials with exponential backoff
// and jitter instead of reconnecting immediately. A deviation from the
// reference behavior, off by default.
func WithReconnectBackoff(initial, max time.Duration, multiplier, jitter float64) Option {
	return func(c *Client) {
		c.policy.strategy = backoff.ExponentialJitter{}
		c.policy.initialBackoff = initial
		c.policy.maxBackoff = max
		c.policy.multiplier = multiplier
		c.policy.jitter = jitter
	}
}

// WithMetrics enables Prometheus metrics collection on the default
// registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request
// IDs in debug logs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// validateConfiguration checks the composed configuration. Violations
// are construction-fatal: New surfaces them once and never retries.
func (c *Client) validateConfiguration() error {
	var errs []string

	if !c.defaultRate.valid() {
		errs = append(errs, "default rate count and period must be positive")
	}
	if !c.burstRate.valid() {
		errs = append(errs, "burst rate count and period must be positive")
	}
	if c.policy.maxReconnects < 0 {
		errs = append(errs, "max reconnects must be non-negative")
	}
	if c.policy.streamRetryLimit < 0 {
		errs = append(errs, "stream retry limit must be non-negative")
	}
	if c.policy.strategy != nil {
		if c.policy.initialBackoff <= 0 {
			errs = append(errs, "reconnect backoff initial delay must be positive")
		}
		if c.policy.maxBackoff < c.policy.initialBackoff {
			errs = append(errs, "reconnect backoff max delay must be at least the initial delay")
		}
		if c.policy.multiplier <= 0 {
			errs = append(errs, "reconnect backoff multiplier must be positive")
		}
	}
	if c.userAgent == "" {
		errs = append(errs, "user agent must not be empty")
	}

	origin, err := url.Parse(c.rawOrigin)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("origin is not a valid URL: %v", err))
	case origin.Scheme == "" || origin.Host == "":
		errs = append(errs, "origin must be absolute with scheme and host")
	default:
		c.origin = origin
	}

	if len(errs) > 0 {
		return &ClientError{
			Type:    ErrorTypeConfig,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errs),
		}
	}
	return nil
}
