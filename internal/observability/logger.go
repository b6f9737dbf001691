package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger whose records carry the correlation ids of
// their context (see WithLogAttrs) and of the active span. Debug level is
// enabled in dev.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo

	if env == "dev" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(NewContextHandler(handler))
}
