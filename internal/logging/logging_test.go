package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		back, err := ParseLevel(LevelString(level))
		if err != nil || back != level {
			t.Errorf("level %v did not round-trip: %v %v", level, back, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if !strings.HasSuffix(cfg.FilePath, "keycored.log") {
		t.Errorf("unexpected default log path %s", cfg.FilePath)
	}
}

func TestJSONFormatWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelDebug, Format: FormatJSON, Component: "keycored", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create JSON logger: %v", err)
	}
	defer logger.Close()

	logger.Component("host").Debug("tick", "now", 42)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if rec["msg"] != "tick" {
		t.Errorf("unexpected msg %v", rec["msg"])
	}
	if rec["component"] != "host" {
		t.Errorf("expected component host, got %v", rec["component"])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "keycored.log")
	logger, err := New(&Config{Output: "file", FilePath: logPath, MaxSize: 1})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.Info("hello")
	if err := logger.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := rotator.Write([]byte("line\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := rotator.Rotate(); err != nil {
			t.Fatalf("rotate: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := rotator.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if files[0] != logPath {
		t.Errorf("expected current file first, got %s", files[0])
	}
	if rotated := len(files) - 1; rotated != 2 {
		t.Errorf("expected 2 rotated files kept, got %d", rotated)
	}
}

func TestCrashHandlerRecover(t *testing.T) {
	var crashed []CrashReport
	handler := NewCrashHandler(CrashHandlerConfig{
		Dir:       t.TempDir(),
		Version:   "test",
		Component: "host",
		Logger:    Discard(),
		Context:   func() map[string]any { return map[string]any{"layers": "0x9"} },
		OnCrash:   func(r CrashReport) { crashed = append(crashed, r) },
	})

	if handler.Recover(func() {}) {
		t.Error("Recover reported a panic for a clean run")
	}
	if !handler.Recover(func() { panic("boom") }) {
		t.Fatal("Recover did not report the panic")
	}

	reports, err := handler.Reports()
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != 1 || len(crashed) != 1 {
		t.Fatalf("expected one report, got %d stored and %d callbacks", len(reports), len(crashed))
	}
	r := reports[0]
	if r.PanicValue != "boom" || r.Component != "host" || r.Version != "test" {
		t.Errorf("unexpected report %+v", r)
	}
	if r.Context["layers"] != "0x9" {
		t.Errorf("context not recorded: %v", r.Context)
	}
	if !strings.Contains(r.StackTrace, "goroutine") {
		t.Error("stack trace missing")
	}

	if err := handler.Prune(0); err != nil {
		t.Fatalf("prune: %v", err)
	}
	reports, _ = handler.Reports()
	if len(reports) != 0 {
		t.Errorf("expected reports pruned, got %d", len(reports))
	}
}
