package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Values logged under keys containing any of these are replaced entirely.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"private_key",
	"privkey",
	"mnemonic",
	"admin_token",
	"api_key",
}

// bearerPattern matches Authorization header values.
var bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)

// rawKeyPattern matches a bare 32-byte hex string, the form signing keys
// take in config files. Addresses and 0x-prefixed hashes don't match.
var rawKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// RedactingHandler wraps an slog.Handler and redacts secrets before they
// reach the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = redactAttr(g)
		}
		return slog.Group(a.Key, out...)
	}

	key := strings.ToLower(a.Key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}

	val := a.Value.String()
	if strings.Contains(key, "key") && rawKeyPattern.MatchString(strings.TrimPrefix(val, "0x")) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if redacted := bearerPattern.ReplaceAllString(val, "Bearer [REDACTED]"); redacted != val {
		return slog.String(a.Key, redacted)
	}
	return a
}
