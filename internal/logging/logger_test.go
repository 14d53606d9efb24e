package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSetAndGetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	customLogger := slog.New(slog.NewJSONHandler(&buf, nil))
	SetLogger(customLogger)

	if Logger() != customLogger {
		t.Error("Logger() did not return the logger set by SetLogger()")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Debug("should not appear")
	if buf.Len() > 0 {
		t.Error("Debug messages should not appear at Info level")
	}

	Info("test message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"key"`) {
		t.Errorf("expected output to contain key, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetTextOutput(&buf)

	tests := []struct {
		name    string
		logFunc func(string, ...any)
		level   string
	}{
		{"Debug", Debug, "DEBUG"},
		{"Info", Info, "INFO"},
		{"Warn", Warn, "WARN"},
		{"Error", Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc(tt.name+" test message", "key", "val")
			output := buf.String()
			if !strings.Contains(output, tt.name+" test message") {
				t.Errorf("expected output to contain message, got: %s", output)
			}
			if !strings.Contains(output, tt.level) {
				t.Errorf("expected output to contain level %s, got: %s", tt.level, output)
			}
		})
	}
}

func TestLogWithContext(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetTextOutput(&buf)

	ctx := context.Background()
	tests := []struct {
		name    string
		logFunc func(context.Context, string, ...any)
	}{
		{"DebugContext", DebugContext},
		{"InfoContext", InfoContext},
		{"WarnContext", WarnContext},
		{"ErrorContext", ErrorContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc(ctx, tt.name+" context message")
			if !strings.Contains(buf.String(), tt.name+" context message") {
				t.Errorf("expected output to contain message, got: %s", buf.String())
			}
		})
	}
}

func TestSetup(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	if err := Setup(&buf, "warn", "json"); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	Info("hidden")
	Warn("shown", "private_key", "abc")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info record leaked through warn level: %s", output)
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, output)
	}
	if rec["private_key"] != "[REDACTED]" {
		t.Errorf("private_key = %v, want [REDACTED]", rec["private_key"])
	}
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(&buf, "loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := Setup(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFieldHelpers(t *testing.T) {
	addr := common.HexToAddress("0xb54e978a34Af50228a3564662dB6005E9fB04f5a")

	tests := []struct {
		attr slog.Attr
		key  string
		want string
	}{
		{Bonding("hello"), "bonding", "hello"},
		{Address("caller", addr), "caller", addr.Hex()},
		{Err(errors.New("boom")), "error", "boom"},
		{Err(nil), "error", ""},
		{Component("ledger"), "component", "ledger"},
	}

	for _, tt := range tests {
		if tt.attr.Key != tt.key {
			t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
		}
		if got := tt.attr.Value.String(); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}

	if s := Stage(3); s.Key != "stage" || s.Value.Int64() != 3 {
		t.Errorf("Stage(3) = %v", s)
	}
}

func TestAudit(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)

	Audit(AuditEvent{
		Operation: AuditFundsRetrieved,
		Actor:     "0xop",
		Target:    "hello",
		Result:    "success",
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["audit"] != true {
		t.Errorf("audit attr = %v, want true", rec["audit"])
	}
	if rec["operation"] != AuditFundsRetrieved {
		t.Errorf("operation = %v", rec["operation"])
	}
	if rec["target"] != "hello" {
		t.Errorf("target = %v", rec["target"])
	}
}
