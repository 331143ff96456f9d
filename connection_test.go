package catfleet

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

// fakeHandle is a sendHandle double with scriptable dispatch behavior.
type fakeHandle struct {
	closed bool
	sends  int
	send   func(*http.Request) (*http.Response, error)
}

func (h *fakeHandle) CanSend() bool { return !h.closed }

func (h *fakeHandle) Send(req *http.Request) (*http.Response, error) {
	h.sends++
	if h.send == nil {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}
	return h.send(req)
}

// recordingLogger captures log lines per level.
type recordingLogger struct {
	debugs, infos, warns, errs []string
}

func (l *recordingLogger) Debug(msg string, _ ...interface{}) { l.debugs = append(l.debugs, msg) }
func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Warn(msg string, _ ...interface{})  { l.warns = append(l.warns, msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.errs = append(l.errs, msg) }

func newTestConnManager(dial dialFunc) *ConnManager {
	return &ConnManager{
		dial:      dial,
		userAgent: "catfleet/test",
	}
}

func TestConnManagerDialsLazily(t *testing.T) {
	dials := 0
	handle := &fakeHandle{}
	cm := newTestConnManager(func() (sendHandle, error) {
		dials++
		return handle, nil
	})

	if dials != 0 {
		t.Fatal("Expected no dial before the first call")
	}

	if _, err := cm.Call(testRequest(t, "GET", "https://api.test/x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dials != 1 {
		t.Errorf("Expected 1 dial on first call, got %d", dials)
	}

	if _, err := cm.Call(testRequest(t, "GET", "https://api.test/x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dials != 1 {
		t.Errorf("Expected the session to be reused, got %d dials", dials)
	}
}

func TestConnManagerReconnectInvariant(t *testing.T) {
	const n = 4 // sessions that arrive already closed

	var handles []*fakeHandle
	cm := newTestConnManager(func() (sendHandle, error) {
		h := &fakeHandle{closed: len(handles) < n}
		handles = append(handles, h)
		return h, nil
	})

	resp, err := cm.Call(testRequest(t, "GET", "https://api.test/x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	// n dead sessions replaced, the (n+1)-th serves the request.
	if len(handles) != n+1 {
		t.Errorf("Expected %d dials, got %d", n+1, len(handles))
	}
	for i, h := range handles[:n] {
		if h.sends != 0 {
			t.Errorf("Superseded session %d was used for dispatch", i)
		}
	}
	if handles[n].sends != 1 {
		t.Errorf("Expected exactly one dispatch on the live session, got %d", handles[n].sends)
	}
	if cm.handle != handles[n] {
		t.Error("Expected the last dialed session to be current")
	}
}

func TestConnManagerRetriesCanceledStreams(t *testing.T) {
	cancels := 0
	handle := &fakeHandle{}
	handle.send = func(*http.Request) (*http.Response, error) {
		if cancels < 2 {
			cancels++
			return nil, fmt.Errorf("dispatch: %w", ErrStreamCanceled)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	dials := 0
	cm := newTestConnManager(func() (sendHandle, error) {
		dials++
		return handle, nil
	})

	resp, err := cm.Call(testRequest(t, "GET", "https://api.test/x"))
	if err != nil {
		t.Fatalf("Expected cancellations to be retried, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if cancels != 2 {
		t.Errorf("Expected 2 observed cancellations, got %d", cancels)
	}
	if handle.sends != 3 {
		t.Errorf("Expected 3 dispatches on the same session, got %d", handle.sends)
	}
	if dials != 1 {
		t.Errorf("Expected no reconnect for stream cancellation, got %d dials", dials)
	}
}

func TestConnManagerReplacesSessionClosedMidDispatch(t *testing.T) {
	first := &fakeHandle{}
	first.send = func(*http.Request) (*http.Response, error) {
		first.closed = true
		return nil, ErrTransportClosed
	}
	second := &fakeHandle{}

	dials := 0
	cm := newTestConnManager(func() (sendHandle, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})

	if _, err := cm.Call(testRequest(t, "GET", "https://api.test/x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dials != 2 {
		t.Errorf("Expected a replacement dial, got %d dials", dials)
	}
	if second.sends != 1 {
		t.Errorf("Expected the replacement session to serve the request, got %d sends", second.sends)
	}
}

func TestConnManagerTerminalErrorPropagates(t *testing.T) {
	boom := errors.New("stream protocol violation")
	handle := &fakeHandle{send: func(*http.Request) (*http.Response, error) {
		return nil, boom
	}}
	cm := newTestConnManager(func() (sendHandle, error) { return handle, nil })

	_, err := cm.Call(testRequest(t, "GET", "https://api.test/x"))
	if err == nil {
		t.Fatal("Expected a terminal error")
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrorTypeTransport {
		t.Errorf("Expected a Transport ClientError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("Expected the dispatch cause to be wrapped")
	}
	if handle.sends != 1 {
		t.Errorf("Expected no retry for a terminal error, got %d sends", handle.sends)
	}
}

func TestConnManagerDialFailureIsTerminal(t *testing.T) {
	dialErr := errors.New("tls handshake: no h2")
	cm := newTestConnManager(func() (sendHandle, error) { return nil, dialErr })

	_, err := cm.Call(testRequest(t, "GET", "https://api.test/x"))
	if err == nil {
		t.Fatal("Expected a terminal error")
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrorTypeConnect {
		t.Errorf("Expected a Connect ClientError, got %v", err)
	}
	if !errors.Is(err, dialErr) {
		t.Error("Expected the dial cause to be wrapped")
	}
}

func TestConnManagerReconnectLimit(t *testing.T) {
	dials := 0
	cm := newTestConnManager(func() (sendHandle, error) {
		dials++
		return &fakeHandle{closed: true}, nil
	})
	cm.policy.maxReconnects = 2

	_, err := cm.Call(testRequest(t, "GET", "https://api.test/x"))
	if err == nil {
		t.Fatal("Expected an error once the reconnect limit is hit")
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrorTypeConnect {
		t.Errorf("Expected a Connect ClientError, got %v", err)
	}
	if dials != 3 {
		t.Errorf("Expected initial dial plus 2 reconnects, got %d dials", dials)
	}
}

func TestConnManagerStreamRetryLimit(t *testing.T) {
	handle := &fakeHandle{send: func(*http.Request) (*http.Response, error) {
		return nil, ErrStreamCanceled
	}}
	cm := newTestConnManager(func() (sendHandle, error) { return handle, nil })
	cm.policy.streamRetryLimit = 3

	_, err := cm.Call(testRequest(t, "GET", "https://api.test/x"))
	if err == nil {
		t.Fatal("Expected an error once the stream retry limit is hit")
	}
	if handle.sends != 3 {
		t.Errorf("Expected 3 dispatch attempts, got %d", handle.sends)
	}
}

func TestConnManagerForcesHTTP2AndUserAgent(t *testing.T) {
	var seen *http.Request
	handle := &fakeHandle{send: func(req *http.Request) (*http.Response, error) {
		seen = req
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}}
	cm := newTestConnManager(func() (sendHandle, error) { return handle, nil })

	if _, err := cm.Call(testRequest(t, "GET", "https://api.test/x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.Proto != "HTTP/2.0" || seen.ProtoMajor != 2 {
		t.Errorf("Expected request forced to HTTP/2, got %s", seen.Proto)
	}
	if got := seen.Header.Get("User-Agent"); got != "catfleet/test" {
		t.Errorf("Expected user agent stamped, got %q", got)
	}
}

func TestConnManagerWarnsOnForeignUserAgent(t *testing.T) {
	logger := &recordingLogger{}
	handle := &fakeHandle{}
	cm := newTestConnManager(func() (sendHandle, error) { return handle, nil })
	cm.logger = logger

	req := testRequest(t, "GET", "https://api.test/x")
	req.Header.Set("User-Agent", "someone-else/1.0")

	if _, err := cm.Call(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logger.warns) != 1 {
		t.Fatalf("Expected one warning about the overwritten user agent, got %d", len(logger.warns))
	}
}

func TestConnManagerReplaysBodyAcrossRetries(t *testing.T) {
	var bodies []string
	attempts := 0
	handle := &fakeHandle{send: func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		bodies = append(bodies, string(b))
		attempts++
		if attempts == 1 {
			return nil, ErrStreamCanceled
		}
		return &http.Response{StatusCode: http.StatusCreated, Body: http.NoBody}, nil
	}}
	cm := newTestConnManager(func() (sendHandle, error) { return handle, nil })

	req, err := http.NewRequest("POST", "https://api.test/register", strings.NewReader(`{"symbol":"CATBRAINED"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cm.Call(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("Expected 2 dispatches, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b != `{"symbol":"CATBRAINED"}` {
			t.Errorf("Attempt %d saw body %q", i, b)
		}
	}
}
