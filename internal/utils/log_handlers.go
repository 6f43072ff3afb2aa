// Package utils provides small helpers shared by the gitmesh daemon.
package utils

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// FanoutLogHandler implements slog.Handler and forwards records to every
// handler that is enabled for the record's level.
type FanoutLogHandler struct {
	handlers []slog.Handler
}

func NewFanoutLogHandler(handlers ...slog.Handler) *FanoutLogHandler {
	return &FanoutLogHandler{handlers: handlers}
}

func (h *FanoutLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if e := handler.Handle(ctx, r); e != nil {
				err = e
			}
		}
	}
	return err
}

func (h *FanoutLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return NewFanoutLogHandler(handlers...)
}

func (h *FanoutLogHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return NewFanoutLogHandler(handlers...)
}

// TimestampedWriter prefixes every write with an RFC3339 timestamp. The file
// handler strips slog's own time attribute, so the log file carries exactly
// one timestamp per line.
type TimestampedWriter struct {
	target io.Writer
}

func NewTimestampedWriter(target io.Writer) *TimestampedWriter {
	return &TimestampedWriter{target: target}
}

func (w *TimestampedWriter) Write(p []byte) (int, error) {
	prefix := slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(w.target, prefix); err != nil {
		return 0, err
	}
	return w.target.Write(p)
}
