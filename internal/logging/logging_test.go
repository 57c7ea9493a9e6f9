package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("default level = %v, want info", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("default output = %q, want stderr", cfg.Output)
	}
	if cfg.Component != "checkind" {
		t.Errorf("default component = %q", cfg.Component)
	}
}

func TestNewWithFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "checkind.log")

	l, err := New(&Config{
		Level:    LevelDebug,
		Format:   FormatJSON,
		Output:   "file",
		FilePath: path,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Info("queue drained", "items", 3)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "queue drained") {
		t.Errorf("log file missing entry: %s", data)
	}
	if !strings.Contains(string(data), `"items":3`) {
		t.Errorf("JSON format missing structured attr: %s", data)
	}
}

func TestNewFileOutputWithoutPath(t *testing.T) {
	_, err := New(&Config{Output: "file"})
	if err == nil {
		t.Error("expected error for file output without path")
	}
}

func TestWithComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkind.log")

	l, err := New(&Config{Output: "file", FilePath: path, Format: FormatJSON})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.WithComponent("syncqueue").Info("hello")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "syncqueue") {
		t.Errorf("component attr missing: %s", data)
	}
}

func TestRedactsSensitiveAttrs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkind.log")

	l, err := New(&Config{Output: "file", FilePath: path, Format: FormatJSON})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Info("endpoint configured", "auth_token", "hunter2", "items", 3)

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("sensitive value leaked into log: %s", data)
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Errorf("expected redaction marker: %s", data)
	}
	if !strings.Contains(string(data), `"items":3`) {
		t.Errorf("non-sensitive attr should survive: %s", data)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"auth_token", true},
		{"Password", true},
		{"api_key", true},
		{"endpoint", false},
		{"items", false},
		{"latitude", false},
	}

	for _, tt := range tests {
		if got := shouldRedact(tt.key); got != tt.want {
			t.Errorf("shouldRedact(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"bogus", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat("text"); err != nil || f != FormatText {
		t.Errorf("ParseFormat(text) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
