// Package logger provides the application's slog setup plus small attr
// helpers shared by every module.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the application logger
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root slog.Logger.
//
// Level comes from LOG_LEVEL (debug|info|warn|error, default info).
// Local development (GO_ENV=development or unset ENVIRONMENT) gets a text
// handler; everything else logs JSON for ingestion.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
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

func isDevelopment() bool {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	switch strings.ToLower(env) {
	case "", "local", "dev", "development":
		return true
	}
	return false
}

// Scope returns a scope attribute identifying the component that logged
func Scope(scope string) slog.Attr {
	return slog.Attr{Key: "scope", Value: slog.StringValue(scope)}
}

// Error returns an error attribute
func Error(err error) slog.Attr {
	return slog.Attr{Key: "error", Value: slog.AnyValue(err)}
}
