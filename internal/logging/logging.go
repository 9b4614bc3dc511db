package logging

import (
	"io"
	"log/slog"

	"github.com/slimpdf/slimpdf-api/internal/config"
)

// New returns a JSON logger for production and a debug-level text logger for
// development.
func New(w io.Writer, cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(handler).With("service", "slimpdf")
}
