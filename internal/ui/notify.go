package ui

import (
	"context"
	"log/slog"
)

// LogNotifier writes warnings to the log. Used when no host bridge is attached.
type LogNotifier struct {
	Log *slog.Logger
}

// Warn implements Notifier.
func (n LogNotifier) Warn(_ context.Context, message string) error {
	if n.Log != nil {
		n.Log.Warn(message)
	}
	return nil
}
