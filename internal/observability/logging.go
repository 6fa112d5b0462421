package observability

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/haasonsaas/relay/internal/correlation"
)

// Operation names used in the "operation" field of structured log entries.
const (
	OpRespond  = "respond-to-message"
	OpToolCall = "tool-call"
	OpRetry    = "retry"
)

// Logger writes slog records with the event's correlation fields merged in
// and secrets scrubbed from messages and values.
//
// Every entry written with a context that carries a correlation.Context gets
// that context's fields ahead of the call-site fields, so all entries for one
// event share a correlation_id. An active span adds trace_id.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	logger.Info(ctx, "response delivered", "operation", observability.OpRespond, "model", model)
type Logger struct {
	logger *slog.Logger
	redact *redactor
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	Level  string    // debug, info, warn or error; default info
	Format string    // json or text; default json
	Output io.Writer // default os.Stdout

	AddSource bool

	// RedactPatterns extend DefaultRedactPatterns.
	RedactPatterns []string
}

// DefaultRedactPatterns match credentials that must never reach a log line.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Slack bot, user, app-level and config tokens
	`xox[abposr]-[a-zA-Z0-9-]{10,}`,
	`xapp-[a-zA-Z0-9-]{10,}`,

	// Anthropic and OpenAI API keys
	`sk-ant-[a-zA-Z0-9_-]{32,}`,
	`sk-[a-zA-Z0-9_-]{32,}`,

	// Slack response_url webhooks grant a posting capability
	`https://hooks\.slack\.com/[^\s"']+`,
}

// NewLogger builds a logger. Invalid redaction patterns are skipped.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		redact: newRedactor(append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...)),
	}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard, Level: "error"})
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level. Errors passed as values are logged as their
// redacted message.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	fields := make([]any, len(args), len(args)+2)
	for i, arg := range args {
		fields[i] = l.redact.value(arg)
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}
	if cc, ok := correlation.FromContext(ctx); ok {
		fields = cc.Merge(fields...)
	}

	l.logger.Log(ctx, level, l.redact.text(msg), fields...)
}

// WithFields returns a logger that adds args to every record.
//
//	componentLogger := logger.WithFields("component", "gateway")
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redact: l.redact}
}

// StdLogger adapts the logger to *log.Logger for libraries that print
// through one. Each line is redacted and written at level.
func (l *Logger) StdLogger(level slog.Level) *log.Logger {
	return log.New(stdWriter{logger: l, level: level}, "", 0)
}

type stdWriter struct {
	logger *Logger
	level  slog.Level
}

func (w stdWriter) Write(p []byte) (int, error) {
	w.logger.log(context.Background(), w.level, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// LogLevelFromString converts a level name to a slog.Level. Unknown names
// map to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const redactedMarker = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"private_key":   true,
	"auth":          true,
	"authorization": true,
	"response_url":  true,
}

type redactor struct {
	patterns []*regexp.Regexp
}

func newRedactor(patterns []string) *redactor {
	r := &redactor{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

func (r *redactor) text(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedMarker)
	}
	return s
}

func (r *redactor) value(v any) any {
	switch val := v.(type) {
	case nil, int, int32, int64, float64, bool:
		return v
	case string:
		return r.text(val)
	case error:
		return r.text(val.Error())
	case []byte:
		return r.text(string(val))
	case map[string]any:
		return r.fields(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return r.fields(m)
	case interface{ String() string }:
		return v
	default:
		if b, err := json.Marshal(v); err == nil {
			return r.text(string(b))
		}
		return v
	}
}

// fields redacts map values, replacing those under sensitive keys outright.
func (r *redactor) fields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
			out[k] = redactedMarker
			continue
		}
		out[k] = r.value(v)
	}
	return out
}
