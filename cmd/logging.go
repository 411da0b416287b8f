package cmd

import (
	"context"
	"log/slog"
	"os"
)

// teeHandler duplicates records to every wrapped handler. Used to add
// the per-session crawler.log once the session directory exists.
type teeHandler struct {
	handlers []slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return teeHandler{handlers: out}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithGroup(name)
	}
	return teeHandler{handlers: out}
}

// attachSessionLog adds a JSON file log at the given path alongside
// the current default handler. Returns a close func for the file.
func attachSessionLog(path string) func() {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("session log unavailable", "path", path, "error", err)
		return func() {}
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	file := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(teeHandler{handlers: []slog.Handler{slog.Default().Handler(), file}}))
	return func() { f.Close() }
}
