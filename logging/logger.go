// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer MeshLogger with contextual
// helpers (component, request) and domain specific helpers for stage
// execution, handoffs and health probes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface for LeadMesh.
// This allows users to provide their own logger implementation or use the
// built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// MeshLogger wraps slog.Logger adding contextual cloning helpers and domain
// convenience methods. It should be cheap to copy via With* methods.
type MeshLogger struct {
	logger    *slog.Logger
	level     LogLevel
	context   map[string]any
	component string
	requestID string
}

// LoggerConfig configures construction of a MeshLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	RequestID   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout, CustomAttrs: map[string]any{}}
}

// NewLogger builds a MeshLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *MeshLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	ctx := map[string]any{}
	for k, v := range cfg.CustomAttrs {
		ctx[k] = v
	}
	return &MeshLogger{logger: slog.New(handler), level: cfg.Level, context: ctx, component: cfg.Component, requestID: cfg.RequestID}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *MeshLogger) clone() *MeshLogger {
	nl := *l
	nl.context = map[string]any{}
	for k, v := range l.context {
		nl.context[k] = v
	}
	return &nl
}

// WithContext adds a key/value attribute attached to every log entry.
func (l *MeshLogger) WithContext(key string, value any) *MeshLogger {
	nl := l.clone()
	nl.context[key] = value
	return nl
}

// WithComponent sets the logical component (registry, scheduler, runner, etc.).
func (l *MeshLogger) WithComponent(c string) *MeshLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithRequest attaches the request identifier.
func (l *MeshLogger) WithRequest(id string) *MeshLogger {
	nl := l.clone()
	nl.requestID = id
	return nl
}

func (l *MeshLogger) buildAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.context)+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.requestID != "" {
		attrs = append(attrs, slog.String("request_id", l.requestID))
	}
	for k, v := range l.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (l *MeshLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	attrs := l.buildAttrs()
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs at debug level.
func (l *MeshLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *MeshLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *MeshLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *MeshLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// LogStage records execution details for one pipeline stage attempt.
func (l *MeshLogger) LogStage(requestID, capability, agentID string, attempt int, dur time.Duration, success bool, err error) {
	if requestID != "" {
		l = l.WithRequest(requestID)
	}
	attrs := l.buildAttrs()
	attrs = append(attrs,
		slog.String("capability", capability),
		slog.String("agent_id", agentID),
		slog.Int("attempt", attempt),
		slog.Duration("duration", dur),
		slog.Bool("success", success))
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level := slog.LevelInfo
	msg := "Stage completed"
	if !success {
		level = slog.LevelWarn
		msg = "Stage failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogHandoff records a tier re-routing decision.
func (l *MeshLogger) LogHandoff(requestID, fromTier, toTier, reason string) {
	if requestID != "" {
		l = l.WithRequest(requestID)
	}
	attrs := l.buildAttrs()
	attrs = append(attrs,
		slog.String("from_tier", fromTier),
		slog.String("to_tier", toTier),
		slog.String("reason", reason))
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Handoff occurred", attrs...)
}

// LogProbe records a health probe result and any status movement.
func (l *MeshLogger) LogProbe(agentID string, dur time.Duration, healthy bool, status string) {
	attrs := l.buildAttrs()
	attrs = append(attrs,
		slog.String("agent_id", agentID),
		slog.Duration("duration", dur),
		slog.Bool("healthy", healthy),
		slog.String("status", status))
	level := slog.LevelDebug
	if !healthy {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(context.Background(), level, "Health probe", attrs...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}
