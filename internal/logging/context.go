package logging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// NewRequestID returns a random UUID.
func NewRequestID() string {
	return uuid.NewString()
}

// ContextWithRequestID stores id in ctx for WithContext.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the stored request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Attribute keys containing any of these are masked.
var sensitiveKeys = []string{
	"password", "secret", "token", "credential", "private",
	"authorization", "cookie", "api_key", "apikey", "bearer",
}

func shouldRedact(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if shouldRedact(a.Key) {
		a.Value = slog.StringValue("[REDACTED]")
	}
	return a
}
