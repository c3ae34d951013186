package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Fatalf("ParseLevel(%q) err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.With(Component("writer")).Warn("pool exhausted", Int("size", 64))

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if obj["msg"] != "pool exhausted" || obj["level"] != "WARN" {
		t.Fatalf("unexpected entry: %v", obj)
	}
	if obj["component"] != "writer" {
		t.Fatalf("missing component: %v", obj)
	}
	if obj["size"].(float64) != 64 {
		t.Fatalf("missing size: %v", obj)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithFormatter(&TextFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.Info("hidden")
	l.Error("shown", Str("k", "v"))
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Fatalf("expected error line with field: %q", out)
	}
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error")
	}
}
