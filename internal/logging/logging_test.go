package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"fatal", slog.LevelError},
		{"  info  ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler("mtlcap", slog.LevelDebug, &buf))

	Component(logger, "sweep").Info("probe finished", "sessions", 20, "label", "PASS")

	line := buf.String()
	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{2}:\d{2} mtlcap \[INFO\] sweep: probe finished sessions=20 label=PASS\n$`)
	if !re.MatchString(line) {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler("mtlcap", slog.LevelWarn, &buf))

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] main: shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestHandlerQuotesAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler("mtlcap", slog.LevelDebug, &buf))

	logger.WithGroup("host").Info("bind", "name", "dut a")

	if !strings.Contains(buf.String(), `host.name="dut a"`) {
		t.Errorf("expected grouped quoted attr, got %q", buf.String())
	}
}

func TestNewQuietWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mtlcap.log")
	logger, closeLog := New("warn", path, true)
	logger.Info("dropped")
	logger.Warn("kept", "sessions", 8)
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") || !strings.Contains(out, "[WARN] main: kept sessions=8") {
		t.Errorf("log file = %q", out)
	}
}
