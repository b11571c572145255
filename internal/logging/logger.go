package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// RedactedValue replaces secret values in log output.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"passphrase":    {},
	"api_key":       {},
	"token":         {},
	"private_key":   {},
	"qr_code":       {},
}

// New creates a JSON slog logger configured at the provided level. If the
// level string is invalid it defaults to info. Attributes under sensitive keys are
// redacted wherever they are logged.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: redact})
	return slog.New(handler)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Mask returns an attribute whose non-empty value is redacted.
func Mask(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() == slog.KindString {
		return Mask(a.Key, a.Value.String())
	}
	return a
}
