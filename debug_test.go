package catfleet

import (
	"strings"
	"testing"
)

func TestDefaultDebugConfig(t *testing.T) {
	config := DefaultDebugConfig()

	if config.Enabled {
		t.Error("Expected debug logging off by default")
	}
	if !config.LogRequests || !config.LogRateLimit || !config.LogReconnects {
		t.Error("Expected all categories enabled by default")
	}
	if config.RequestIDGen == nil {
		t.Fatal("Expected a request ID generator")
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := generateRequestID()
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("Expected req_ prefix, got %q", id)
	}
	if len(id) <= len("req_") {
		t.Errorf("Expected a non-empty suffix, got %q", id)
	}
}

func TestWithDebugEnablesLogging(t *testing.T) {
	c, err := New(WithDebug())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.debug == nil || !c.debug.Enabled {
		t.Error("Expected debug logging enabled")
	}
}

func TestWithRequestIDGenerator(t *testing.T) {
	c, err := New(WithRequestIDGenerator(func() string { return "req_custom" }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.debug.RequestIDGen(); got != "req_custom" {
		t.Errorf("Expected the custom generator, got %q", got)
	}
}

func TestSimpleLoggerDoesNotPanic(t *testing.T) {
	logger := NewSimpleLogger()

	logger.Debug("debug line", "key", "value")
	logger.Info("info line")
	logger.Warn("warn line", "odd-key")
	logger.Error("error line", "attempts", 3)
}
