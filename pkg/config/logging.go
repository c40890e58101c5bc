package config

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogging configures the default slog logger from LOG_LEVEL and
// LOG_FORMAT. Unknown values fall back to INFO / text.
func SetupLogging() {
	level := slog.LevelInfo
	switch strings.ToUpper(getEnv("LOG_LEVEL", "INFO")) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARNING", "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(getEnv("LOG_FORMAT", "text")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
