package hub

import (
	"context"
	"log/slog"
)

// LogEvent logs a history event at INFO (kind, id) and DEBUG (preview up to
// 50 runes, or dimensions for images).
func LogEvent(ev Event) {
	if ev.Item == nil {
		slog.Info("history "+string(ev.Kind), "removed", ev.Removed)
		return
	}
	slog.Info("history "+string(ev.Kind), "id", ev.Item.ID, "kind", ev.Item.Content.Kind(), "pinned", ev.Item.Pinned)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("history item", "id", ev.Item.ID, "preview", ev.Item.Preview(), "size_bytes", ev.Item.Size())
}
