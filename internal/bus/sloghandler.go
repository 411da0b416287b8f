package bus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

// LogHandler forwards slog records to the bus as log.line events so
// IPC and WebSocket observers see the crawl log without tailing files.
// Delivery inherits the bus policy: slow observers drop lines and
// logging never blocks the loop.
type LogHandler struct {
	pub   EventPublisher
	level slog.Leveler
	attrs []slog.Attr
}

// NewLogHandler creates a handler publishing records at or above level.
func NewLogHandler(pub EventPublisher, level slog.Leveler) *LogHandler {
	return &LogHandler{pub: pub, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)
	for _, a := range h.attrs {
		sb.WriteString(" ")
		sb.WriteString(a.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteString(" ")
		sb.WriteString(a.String())
		return true
	})
	h.pub.Broadcast(Event{Name: protocol.EventLogLine, Payload: protocol.LogPayload{
		Level:   r.Level.String(),
		Message: sb.String(),
	}})
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &out
}

// Groups are flattened; the payload carries a single message string.
func (h *LogHandler) WithGroup(string) slog.Handler { return h }
