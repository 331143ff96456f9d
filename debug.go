package catfleet

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Logger is the minimal leveled logging interface used for debug output.
// Adapters for structured loggers only need to flatten key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig selects which stack events are logged. All flags are
// independent so noisy categories can be silenced individually.
type DebugConfig struct {
	Enabled       bool
	LogRequests   bool
	LogRateLimit  bool
	LogReconnects bool
	RequestIDGen  func() string
}

// DefaultDebugConfig returns a config with all categories enabled but the
// Enabled master switch off.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:       false,
		LogRequests:   true,
		LogRateLimit:  true,
		LogReconnects: true,
		RequestIDGen:  generateRequestID,
	}
}

func generateRequestID() string {
	return "req_" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// SimpleLogger is a console Logger for development use.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a logger writing to stdout.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{
		logger: log.New(os.Stdout, "[catfleet] ", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.print("DEBUG", msg, keysAndValues)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.print("INFO", msg, keysAndValues)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.print("WARN", msg, keysAndValues)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.print("ERROR", msg, keysAndValues)
}

func (l *SimpleLogger) print(level, msg string, keysAndValues []interface{}) {
	if len(keysAndValues) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	var b strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(keysAndValues[i]))
		b.WriteByte('=')
		if i+1 < len(keysAndValues) {
			b.WriteString(fmt.Sprint(keysAndValues[i+1]))
		} else {
			b.WriteString("<missing>")
		}
	}
	l.logger.Printf("%s %s%s", level, msg, b.String())
}
