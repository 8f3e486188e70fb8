// Package observability sets up structured logging and Prometheus metrics.
package observability

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// SetupLogging configures slog to emit JSON to stdout and makes it the
// default logger. The standard library logger is bridged onto the same
// handler. Every line carries the service name and, when set, the env.
func SetupLogging(service, env, level string) *slog.Logger {
	return setupLogging(os.Stdout, service, env, level)
}

func setupLogging(w io.Writer, service, env, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	bound := handler.WithAttrs(attrs)
	logger := slog.New(bound)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(bound, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
