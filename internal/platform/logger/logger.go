package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Federation processing is
// concurrent across many remote instances, so every log line carries
// key/value context instead of formatted strings.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level(),
	}))
}

func level() slog.Level {
	switch os.Getenv("AGORA_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
