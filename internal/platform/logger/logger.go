package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. Services receive children of this
// via their WithLogger options.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
