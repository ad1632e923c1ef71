package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// LogCode tags a log line with the subsystem or stage that produced it.
type LogCode string

// Attach one of these under the "code" key so log lines can be filtered by
// the stage that produced them.
const (
	SYSTEM   LogCode = "SYSTEM"
	NODE     LogCode = "NODE"
	PROGRESS LogCode = "PROGRESS"

	DEPLOY   LogCode = "DEPLOY"
	UNDEPLOY LogCode = "UNDEPLOY"
	CONFLICT LogCode = "CONFLICT"
	MEMORY   LogCode = "MEMORY"
	CONVERGE LogCode = "CONVERGE"
	ROLLBACK LogCode = "ROLLBACK"
)

// Code returns the slog attribute for c.
func Code(c LogCode) slog.Attr {
	return slog.String("code", string(c))
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Init installs the default logger: a text handler on stderr and, when
// jsonOut is not nil, a JSON handler on jsonOut tagged with service.
func Init(service string, level slog.Level, jsonOut io.Writer) *slog.Logger {
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if jsonOut != nil {
		jsonHandler := slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{Level: level, AddSource: true}).
			WithAttrs([]slog.Attr{slog.String("service_type", service)})
		handler = slogmulti.Fanout(jsonHandler, handler)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
