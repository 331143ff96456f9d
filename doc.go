// Package catfleet provides the outbound request-dispatch core for a REST
// API client: every outgoing call is rate-capped, reconnect-resilient and
// correctly addressed before it reaches the wire.
//
// The stack is an ordered pipeline of layers sharing one contract, Service,
// a two-phase readiness-then-call protocol:
//
//   - BaseURL rewrites relative targets against the configured origin
//   - ExtraHeaders injects the bearer credential and fixed extra headers
//   - RateLimiter enforces a sustained-plus-burst token budget
//   - ConnManager owns a single TLS/HTTP2 session, reconnecting on
//     closure and retrying canceled streams transparently
//
// Layers are wrapped innermost-first at construction; callers see a single
// opaque call capability. A caller only ever observes success with a
// response or one terminal error per logical call. Reconnects and stream
// retries surface only as latency.
//
// Typical usage:
//
//	client, err := catfleet.New(
//	    catfleet.WithOrigin("https://api.spacetraders.io/v2/"),
//	    catfleet.WithToken(token),
//	    catfleet.WithRates(
//	        catfleet.Rate{Count: 2, Period: time.Second},
//	        catfleet.Rate{Count: 30, Period: time.Minute},
//	    ),
//	    catfleet.WithMetrics(),
//	)
//	if err != nil {
//	    // Invalid origin or rates. Construction fatal, nothing retried.
//	}
//	resp, err := client.Get(ctx, "/my/ships?limit=20")
//
// The library avoids opinionated logging: provide a Logger (e.g. via
// WithSimpleLogger) and enable debug flags selectively (WithDebug /
// WithDebugConfig) for insight without noise.
package catfleet
