package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that mark an attribute key as secret.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"keyjson",
}

// signatureKeyPatterns mark attributes holding wallet signatures. Signatures
// are not secret, but a valid registration signature is a bearer credential
// for the length of its validity window.
var signatureKeyPatterns = []string{
	"signature",
}

// privateKeyPattern matches secp256k1 private keys (0x + 64 hex chars).
var privateKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// signaturePattern matches 65-byte r||s||v signatures, with or without 0x.
var signaturePattern = regexp.MustCompile(`\b(0x)?[0-9a-fA-F]{130}\b`)

// longHexPattern matches other long hex blobs that may carry key material.
var longHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{65,}\b`)

// RedactingHandler wraps an slog.Handler and redacts sensitive values before they
// are passed to the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps the given inner handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive attribute values and forwards the record to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	newRecord.AddAttrs(redacted...)

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes redacted.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
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

	for _, pattern := range signatureKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, RedactSignature(val))
		}
	}

	if redacted := RedactString(val); redacted != val {
		return slog.String(a.Key, redacted)
	}
	return a
}

// RedactSignature shortens a hex signature to its first and last four bytes.
// Values shorter than a 65-byte signature are returned unchanged.
func RedactSignature(sig string) string {
	trimmed := strings.TrimPrefix(sig, "0x")
	if len(trimmed) < 130 {
		return sig
	}
	return "0x" + trimmed[:8] + "..." + trimmed[len(trimmed)-8:]
}

// RedactString scans free text and masks private keys and signatures.
func RedactString(val string) string {
	val = signaturePattern.ReplaceAllStringFunc(val, RedactSignature)

	val = privateKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
		return match[:6] + "..." + match[len(match)-4:]
	})

	val = longHexPattern.ReplaceAllStringFunc(val, func(match string) string {
		return match[:8] + "...[REDACTED]"
	})

	return val
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(handler))
}

// NewRedactingLogger creates a new slog.Logger with redaction enabled.
func NewRedactingLogger(inner slog.Handler) *slog.Logger {
	return slog.New(NewRedactingHandler(inner))
}
