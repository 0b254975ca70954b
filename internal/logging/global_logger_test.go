package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/vertex-proxy/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		// Debug level
		{"debug lowercase", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"debug mixed case", "Debug", log.DebugLevel},
		{"verbose lowercase", "verbose", log.DebugLevel},
		{"verbose uppercase", "VERBOSE", log.DebugLevel},
		{"verbose mixed case", "Verbose", log.DebugLevel},

		// Info level
		{"info lowercase", "info", log.InfoLevel},
		{"info uppercase", "INFO", log.InfoLevel},
		{"info mixed case", "Info", log.InfoLevel},

		// Warn level
		{"warn lowercase", "warn", log.WarnLevel},
		{"warn uppercase", "WARN", log.WarnLevel},
		{"warning lowercase", "warning", log.WarnLevel},
		{"warning uppercase", "WARNING", log.WarnLevel},
		{"warning mixed case", "Warning", log.WarnLevel},

		// Error level
		{"error lowercase", "error", log.ErrorLevel},
		{"error uppercase", "ERROR", log.ErrorLevel},
		{"error mixed case", "Error", log.ErrorLevel},

		// Fatal level (quiet/silent)
		{"quiet lowercase", "quiet", log.FatalLevel},
		{"quiet uppercase", "QUIET", log.FatalLevel},
		{"silent lowercase", "silent", log.FatalLevel},
		{"silent uppercase", "SILENT", log.FatalLevel},

		// Default (unknown) -> InfoLevel
		{"unknown string", "unknown", log.InfoLevel},
		{"empty string", "", log.InfoLevel},
		{"random string", "foobar", log.InfoLevel},
		{"numeric string", "123", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset to a known state before each test
			log.SetLevel(log.PanicLevel)

			SetLogLevel(tt.input)

			got := log.GetLevel()
			if got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfigureLogOutput_File(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{LoggingToFile: true, LogDir: filepath.Join(dir, "logs")}

	if err := ConfigureLogOutput(cfg); err != nil {
		t.Fatalf("ConfigureLogOutput() error = %v", err)
	}
	t.Cleanup(func() { _ = ConfigureLogOutput(nil) })

	log.SetLevel(log.InfoLevel)
	log.Info("written to file")

	data, err := os.ReadFile(filepath.Join(dir, "logs", defaultLogFileName))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file content = %q, want message", string(data))
	}
}

func TestConfigureLogOutput_Stdout(t *testing.T) {
	if err := ConfigureLogOutput(&config.Config{}); err != nil {
		t.Fatalf("ConfigureLogOutput() error = %v", err)
	}
	if log.StandardLogger().Out != os.Stdout {
		t.Error("expected stdout output when logging-to-file is disabled")
	}
}

func TestLogFormatter_Format(t *testing.T) {
	entry := log.NewEntry(log.StandardLogger())
	entry.Level = log.WarnLevel
	entry.Message = "token refresh failed\n"
	entry.Data = log.Fields{"request_id": "abc", log.ErrorKey: "boom"}

	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	line := string(out)
	for _, want := range []string{"[WARN]", "token refresh failed request_id=abc", "error=boom"} {
		if !strings.Contains(line, want) {
			t.Errorf("Format() = %q, missing %q", line, want)
		}
	}
	if strings.Count(line, "\n") != 1 {
		t.Errorf("Format() = %q, want exactly one trailing newline", line)
	}
}
