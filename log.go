package bendload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
)

type contextKey string

// LogQueryIDKey is the context key of the query id attached to log lines.
const LogQueryIDKey contextKey = "LOG_QUERY_ID"

// LogUserKey is the context key of the user attached to log lines.
const LogUserKey contextKey = "LOG_USER"

// LogKeys are the context keys included in messages when using WithContext.
var LogKeys = [...]contextKey{LogQueryIDKey, LogUserKey}

// ContextLogger represents a logger that already captured desired context.
type ContextLogger interface {
	Infoln(args ...interface{})
}

// Logger is the logging interface used by this package, backed by slog.
// A Logger is passed explicitly at client construction; nothing here mutates
// process-wide logging state.
type Logger interface {
	Debugf(format string, args ...interface{})
	Error(args ...interface{})
	Info(args ...interface{})
	SetLogLevel(level string) error
	SetOutput(output io.Writer)
	WithContext(ctx context.Context) ContextLogger
}

func callerPrettyfier(frame *runtime.Frame) (string, string) {
	return path.Base(frame.Function), fmt.Sprintf("%s:%d", path.Base(frame.File), frame.Line)
}

type defaultLogger struct {
	mu        sync.RWMutex
	levelVar  *slog.LevelVar
	handlerFn func(io.Writer) slog.Handler
	inner     *slog.Logger
	output    io.Writer
}

// NewDefaultLogger returns a new text logger writing to stdout at info level.
func NewDefaultLogger() Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)

	replaceAttr := func(groups []string, attr slog.Attr) slog.Attr {
		if attr.Key == slog.SourceKey {
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				frame := &runtime.Frame{
					Function: src.Function,
					File:     src.File,
					Line:     src.Line,
				}
				function, location := callerPrettyfier(frame)
				attr.Value = slog.StringValue(strings.TrimSpace(function + " " + location))
			}
		}
		return attr
	}

	handlerFn := func(w io.Writer) slog.Handler {
		if w == nil {
			w = os.Stdout
		}
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			AddSource:   true,
			Level:       levelVar,
			ReplaceAttr: replaceAttr,
		})
	}

	l := &defaultLogger{
		levelVar:  levelVar,
		handlerFn: handlerFn,
		output:    os.Stdout,
	}
	l.inner = slog.New(handlerFn(l.output))
	return l
}

func (log *defaultLogger) getLogger() *slog.Logger {
	log.mu.RLock()
	defer log.mu.RUnlock()
	return log.inner
}

// SetLogLevel sets the logging level of this logger.
func (log *defaultLogger) SetLogLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	log.levelVar.Set(lvl)
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal", "panic":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// WithContext returns a ContextLogger including fields found in ctx.
func (log *defaultLogger) WithContext(ctx context.Context) ContextLogger {
	base := log.getLogger()
	attrs := context2Attrs(ctx)
	if len(attrs) > 0 {
		args := make([]interface{}, len(attrs))
		for i := range attrs {
			args[i] = attrs[i]
		}
		base = base.With(args...)
	}
	return &contextLogger{inner: base}
}

func (log *defaultLogger) Info(args ...interface{}) {
	log.getLogger().Info(fmt.Sprint(args...))
}

func (log *defaultLogger) Error(args ...interface{}) {
	log.getLogger().Error(fmt.Sprint(args...))
}

func (log *defaultLogger) Debugf(format string, args ...interface{}) {
	log.getLogger().Debug(fmt.Sprintf(format, args...))
}

func (log *defaultLogger) SetOutput(output io.Writer) {
	if output == nil {
		return
	}
	log.mu.Lock()
	log.output = output
	log.inner = slog.New(log.handlerFn(output))
	log.mu.Unlock()
}

func context2Attrs(ctx context.Context) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(LogKeys))
	if ctx == nil {
		return attrs
	}
	for i := 0; i < len(LogKeys); i++ {
		if ctx.Value(LogKeys[i]) != nil {
			attrs = append(attrs, slog.Any(string(LogKeys[i]), ctx.Value(LogKeys[i])))
		}
	}
	return attrs
}

type contextLogger struct {
	inner *slog.Logger
}

func (c *contextLogger) Infoln(args ...interface{}) {
	if c == nil || c.inner == nil {
		return
	}
	c.inner.Info(formatLine(args...))
}

func formatLine(args ...interface{}) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
