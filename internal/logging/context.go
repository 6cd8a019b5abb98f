package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	segmentKey contextKey = iota
	taskKey
)

// WithSegment tags ctx with the segment path being processed.
func WithSegment(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, segmentKey, path)
}

// WithTask tags ctx with an upload task identifier.
func WithTask(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if path, ok := ctx.Value(segmentKey).(string); ok && path != "" {
		fields = append(fields, slog.String(FieldSegment, path))
	}
	if id, ok := ctx.Value(taskKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldTaskID, id))
	}
	return fields
}

// WithContext returns a logger augmented with fields derived from ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}

// sessionIDHandler stamps every record with the daemon run's session id.
type sessionIDHandler struct {
	slog.Handler
	sessionID string
}

func newSessionIDHandler(base slog.Handler, sessionID string) slog.Handler {
	return &sessionIDHandler{Handler: base, sessionID: sessionID}
}

func (h *sessionIDHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String(FieldSessionID, h.sessionID))
	return h.Handler.Handle(ctx, record)
}

func (h *sessionIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sessionIDHandler{Handler: h.Handler.WithAttrs(attrs), sessionID: h.sessionID}
}

func (h *sessionIDHandler) WithGroup(name string) slog.Handler {
	return &sessionIDHandler{Handler: h.Handler.WithGroup(name), sessionID: h.sessionID}
}
