package catfleet

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/catbrained/catfleet/internal/backoff"
)

// sendHandle is one live transport session. A handle is immutable once
// produced; the connection manager replaces it wholesale on reconnect and
// never patches one in place.
type sendHandle interface {
	// CanSend reports whether the session can still take a new request.
	CanSend() bool
	// Send dispatches one request over the session.
	Send(req *http.Request) (*http.Response, error)
}

// dialFunc establishes a fresh session. Swapped out by tests.
type dialFunc func() (sendHandle, error)

// reconnectPolicy bounds the manager's recovery loops. Zero values mean
// unbounded, which matches the reference behavior and is a known liveness
// risk under sustained failure; the bounds and pacing exist as an
// explicit, opt-in deviation.
type reconnectPolicy struct {
	maxReconnects    int
	streamRetryLimit int

	strategy       backoff.Strategy
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitter         float64
}

func (p *reconnectPolicy) delay(attempt int) time.Duration {
	if p.strategy == nil {
		return 0
	}
	return p.strategy.Delay(attempt, p.initialBackoff, p.maxBackoff, p.multiplier, p.jitter)
}

// ConnManager maintains exactly one TLS-secured HTTP/2 session to a fixed
// origin and masks transient transport failures from callers: a closed
// session is replaced transparently, a canceled stream is retried against
// the same session. Only dispatch failures that are neither are returned.
//
// The session handle is exclusively owned. It is read and replaced only
// inside Call, which the composition root serializes; the background I/O
// driver spawned per session never touches it.
type ConnManager struct {
	dial      dialFunc
	userAgent string
	policy    reconnectPolicy

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector

	// handle is the current session, nil until the first call dials it.
	// Exactly one handle is current at any instant.
	handle sendHandle
}

// NewConnManager creates a manager dialing the given origin. The session
// itself is established lazily on the first call.
func NewConnManager(origin *url.URL, tlsConfig *tls.Config, userAgent string, policy reconnectPolicy, logger Logger, debug *DebugConfig, metrics *MetricsCollector) *ConnManager {
	cm := &ConnManager{
		userAgent: userAgent,
		policy:    policy,
		logger:    logger,
		debug:     debug,
		metrics:   metrics,
	}
	cm.dial = func() (sendHandle, error) {
		return dialSession(origin, tlsConfig, logger)
	}
	return cm
}

// Ready implements Service. The manager is always ready to attempt a
// call; closed sessions are detected and replaced inside Call.
func (cm *ConnManager) Ready() (bool, <-chan time.Time) {
	return true, nil
}

// Call implements Service. It forces the request onto HTTP/2, stamps the
// user-agent, and runs the dispatch loop: replace the session while it
// reports closed, retry canceled streams, return anything else as a
// terminal error.
func (cm *ConnManager) Call(req *http.Request) (*http.Response, error) {
	// Every outgoing request is forced onto HTTP/2.
	req.Proto = "HTTP/2.0"
	req.ProtoMajor = 2
	req.ProtoMinor = 0

	cm.stampUserAgent(req)

	endpoint := getEndpointFromRequest(req)

	// Capture the body once so retried dispatches can replay it.
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, &ClientError{
				Type:      ErrorTypeTransport,
				Message:   "read request body",
				Cause:     err,
				Method:    req.Method,
				URL:       req.URL.String(),
				Endpoint:  endpoint,
				Timestamp: time.Now(),
			}
		}
		body = b
	}

	dials := 0
	retries := 0
	for {
		if cm.handle == nil || !cm.handle.CanSend() {
			if err := cm.redial(dials, endpoint); err != nil {
				return nil, err
			}
			dials++
			continue
		}

		attempt := req.Clone(req.Context())
		if body != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(body))
			attempt.ContentLength = int64(len(body))
		}

		resp, err := cm.handle.Send(attempt)
		if err == nil {
			return resp, nil
		}

		switch {
		case isStreamCanceled(err):
			retries++
			if cm.metrics != nil {
				cm.metrics.RecordStreamRetry(req.Method, endpoint)
			}
			if cm.debug != nil && cm.debug.Enabled && cm.debug.LogReconnects && cm.logger != nil {
				cm.logger.Debug("Stream canceled; retrying on same session", "endpoint", endpoint, "retries", retries)
			}
			if cm.policy.streamRetryLimit > 0 && retries >= cm.policy.streamRetryLimit {
				return nil, &ClientError{
					Type:      ErrorTypeTransport,
					Message:   "stream retry limit exceeded",
					Cause:     err,
					Method:    req.Method,
					URL:       req.URL.String(),
					Attempts:  retries,
					Endpoint:  endpoint,
					Timestamp: time.Now(),
				}
			}
		case isTransportClosed(err) || !cm.handle.CanSend():
			// Superseded handle is discarded immediately; the next pass
			// through the loop dials its replacement.
			cm.handle = nil
			if cm.debug != nil && cm.debug.Enabled && cm.debug.LogReconnects && cm.logger != nil {
				cm.logger.Debug("Session closed during dispatch; reconnecting", "endpoint", endpoint)
			}
		default:
			return nil, &ClientError{
				Type:      ErrorTypeTransport,
				Message:   "request dispatch failed",
				Cause:     err,
				Method:    req.Method,
				URL:       req.URL.String(),
				Attempts:  retries + 1,
				Endpoint:  endpoint,
				Timestamp: time.Now(),
			}
		}
	}
}

// redial replaces the current handle with a freshly dialed session.
// Establishing a session is fatal on failure; there is no retry at this
// level, so a dial error is the caller's terminal error.
func (cm *ConnManager) redial(dialsSoFar int, endpoint string) error {
	if cm.policy.maxReconnects > 0 && dialsSoFar > cm.policy.maxReconnects {
		return &ClientError{
			Type:      ErrorTypeConnect,
			Message:   "reconnect limit exceeded",
			Attempts:  dialsSoFar,
			Endpoint:  endpoint,
			Timestamp: time.Now(),
		}
	}
	if dialsSoFar > 0 {
		if d := cm.policy.delay(dialsSoFar); d > 0 {
			time.Sleep(d)
		}
	}

	h, err := cm.dial()
	if err != nil {
		return &ClientError{
			Type:      ErrorTypeConnect,
			Message:   "establish session",
			Cause:     err,
			Endpoint:  endpoint,
			Timestamp: time.Now(),
		}
	}
	cm.handle = h

	if dialsSoFar > 0 {
		if cm.metrics != nil {
			cm.metrics.RecordReconnect(endpoint)
		}
		if cm.debug != nil && cm.debug.Enabled && cm.debug.LogReconnects && cm.logger != nil {
			cm.logger.Info("Session re-established", "endpoint", endpoint, "reconnects", dialsSoFar)
		}
	}
	return nil
}

// stampUserAgent sets the set-once user-agent header. Finding it already
// populated means an upstream layer overstepped; that is a composition
// ordering bug worth a warning, not a runtime error.
func (cm *ConnManager) stampUserAgent(req *http.Request) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if prev := req.Header.Get("User-Agent"); prev != "" && prev != cm.userAgent {
		if cm.logger != nil {
			cm.logger.Warn("User-Agent header should only be set in one place", "previous", prev)
		}
	}
	req.Header.Set("User-Agent", cm.userAgent)
}

// dialSession brings up one session: resolve host and port from the
// origin, TCP connect, TLS handshake negotiating HTTP/2 via ALPN, then
// the HTTP/2 connection preface. x/net/http2 drives the session I/O on
// its own goroutine; the watched conn below surfaces that driver's
// terminal error to the log, never to a caller.
func dialSession(origin *url.URL, tlsConfig *tls.Config, logger Logger) (sendHandle, error) {
	host := origin.Hostname()
	if host == "" {
		return nil, fmt.Errorf("origin %q has no host", origin)
	}
	port := origin.Port()
	if port == "" {
		port = "443"
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("tcp connect: %w", err)
	}

	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	cfg.NextProtos = []string{http2.NextProtoTLS}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	if p := tlsConn.ConnectionState().NegotiatedProtocol; p != http2.NextProtoTLS {
		tlsConn.Close()
		return nil, fmt.Errorf("server negotiated %q, want %q", p, http2.NextProtoTLS)
	}

	tr := &http2.Transport{}
	cc, err := tr.NewClientConn(&watchedConn{Conn: tlsConn, logger: logger})
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("http2 handshake: %w", err)
	}

	// Block construction until the send side reports ready.
	if !cc.CanTakeNewRequest() {
		cc.Close()
		return nil, fmt.Errorf("session unusable after handshake: %w", ErrTransportClosed)
	}

	return &h2Session{cc: cc}, nil
}

// h2Session adapts *http2.ClientConn to the sendHandle contract. The
// ClientConn is immutable from the manager's point of view once produced.
type h2Session struct {
	cc *http2.ClientConn
}

func (s *h2Session) CanSend() bool {
	return s.cc.CanTakeNewRequest()
}

func (s *h2Session) Send(req *http.Request) (*http.Response, error) {
	return s.cc.RoundTrip(req)
}

// watchedConn logs the session driver's terminal I/O error exactly once.
// The read loop inside x/net/http2 runs independently of any caller and
// must never abort the process; its failure becomes visible to callers
// only indirectly, when a later readiness check or dispatch observes the
// transport as closed.
type watchedConn struct {
	net.Conn
	logger Logger
	once   sync.Once
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.report(err)
	}
	return n, err
}

func (w *watchedConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if err != nil {
		w.report(err)
	}
	return n, err
}

func (w *watchedConn) report(err error) {
	w.once.Do(func() {
		if w.logger != nil {
			w.logger.Error("Session I/O terminated", "error", err)
		}
	})
}
