// Package audit records security-relevant events such as logins and role changes.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tallybook.org/internal/auth"
	"tallybook.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request id and the acting principal.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return logTo(ctx, obs.Logger(), event, fields)
}

func logTo(ctx context.Context, l *slog.Logger, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if username, ok := auth.UsernameFromContext(ctx); ok {
		attrs = append(attrs, slog.String("actor", username))
	}
	group := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		group = append(group, k, v)
	}
	attrs = append(attrs, slog.Group("fields", group...))

	if ctx == nil {
		ctx = context.Background()
	}
	l.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
