package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestRedactingLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewRedactingHandler(inner))
}

func TestRedact_NormalValuesPassThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	hash := "0x" + strings.Repeat("ab", 32)
	logger.Info("relay",
		"worker", "0x00000000000000000000000000000000000000aa",
		"tx_hash", hash,
		"gas_used", 130000,
		"token", "0x0000000000000000000000000000000000000070",
	)

	output := buf.String()
	for _, expected := range []string{"0x00000000000000000000000000000000000000aa", hash, "130000"} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q, got: %s", expected, output)
		}
	}
	if strings.Contains(output, "[REDACTED]") {
		t.Errorf("normal values should not be redacted, got: %s", output)
	}
}

func TestRedact_SensitiveFieldNames(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"password", "hunter2"},
		{"client_secret", "abc"},
		{"worker_private_key", "0x1234"},
		{"mnemonic", "word word word"},
		{"admin_token", "s3cr3t"},
		{"API_KEY", "xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			newTestRedactingLogger(&buf).Info("msg", tt.key, tt.value)
			out := buf.String()
			if strings.Contains(out, tt.value) {
				t.Errorf("value for %s leaked: %s", tt.key, out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("expected redaction marker: %s", out)
			}
		})
	}
}

func TestRedact_RawKeyUnderKeyField(t *testing.T) {
	var buf bytes.Buffer
	raw := strings.Repeat("4c", 32)
	newTestRedactingLogger(&buf).Info("loaded", "signing_key", raw, "tx_hash", raw)

	out := buf.String()
	if strings.Count(out, raw) != 1 {
		t.Errorf("expected only the non-key field to keep the hex value: %s", out)
	}
}

func TestRedact_BearerTokens(t *testing.T) {
	var buf bytes.Buffer
	newTestRedactingLogger(&buf).Info("request", "authorization", "Bearer abc.def-ghi")

	out := buf.String()
	if strings.Contains(out, "abc.def-ghi") {
		t.Errorf("bearer token leaked: %s", out)
	}
	if !strings.Contains(out, "Bearer [REDACTED]") {
		t.Errorf("expected masked bearer token: %s", out)
	}
}

func TestRedact_Groups(t *testing.T) {
	var buf bytes.Buffer
	newTestRedactingLogger(&buf).Info("cfg", slog.Group("worker", slog.String("private_key", "0xdead"), slog.String("address", "0xaa")))

	out := buf.String()
	if strings.Contains(out, "0xdead") {
		t.Errorf("grouped secret leaked: %s", out)
	}
	if !strings.Contains(out, "0xaa") {
		t.Errorf("grouped address should survive: %s", out)
	}
}

func TestRedact_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf).With("password", "p")
	logger.Info("hello")
	if strings.Contains(buf.String(), `"p"`) {
		t.Errorf("With attrs not redacted: %s", buf.String())
	}
}

func TestConfigureRedacts(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Configure(&buf, "info", "json"); err != nil {
		t.Fatal(err)
	}
	if _, ok := Logger().Handler().(*RedactingHandler); !ok {
		t.Fatal("expected a RedactingHandler")
	}

	Info("config loaded", "admin_token", "tok-123", "auth", "Bearer tok-123")
	if strings.Contains(buf.String(), "tok-123") {
		t.Errorf("configured logger leaked a secret: %s", buf.String())
	}
}
