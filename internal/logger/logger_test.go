package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("creates logger with default options", func(t *testing.T) {
		logger := New()
		if logger == nil {
			t.Fatal("expected logger, got nil")
		}
	})

	t.Run("creates logger with custom options", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(
			WithOutput(&buf),
			WithLevel(slog.LevelDebug),
			WithFormat(FormatText),
		)

		logger.Debug("test message", "key", "value")
		output := buf.String()

		if !strings.Contains(output, "test message") {
			t.Errorf("expected output to contain 'test message', got: %s", output)
		}
		if !strings.Contains(output, "key=value") {
			t.Errorf("expected output to contain 'key=value', got: %s", output)
		}
	})

	t.Run("respects log level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(
			WithOutput(&buf),
			WithLevel(slog.LevelWarn),
		)

		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message")
		logger.Error("error message")

		output := buf.String()
		if strings.Contains(output, "debug message") {
			t.Error("debug message should not appear with warn level")
		}
		if strings.Contains(output, "info message") {
			t.Error("info message should not appear with warn level")
		}
		if !strings.Contains(output, "warn message") {
			t.Error("warn message should appear with warn level")
		}
	})
}

func TestNop(t *testing.T) {
	logger := Nop()
	if logger == nil {
		t.Fatal("expected logger, got nil")
	}

	// Nop logger should not panic when called
	logger.Debug("test")
	logger.Info("test")
	logger.Warn("test")
	logger.Error("test")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New(
		WithOutput(&buf),
		WithLevel(slog.LevelDebug),
	)

	sessionLogger := logger.With("session", "s-123")
	sessionLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session=s-123") {
		t.Errorf("expected output to contain 'session=s-123', got: %s", output)
	}
}

func TestFormats(t *testing.T) {
	t.Run("JSON format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(
			WithOutput(&buf),
			WithFormat(FormatJSON),
		)

		logger.Info("test message", "key", "value")
		output := buf.String()

		if !strings.Contains(output, `"msg":"test message"`) {
			t.Errorf("expected JSON format, got: %s", output)
		}
		if !strings.Contains(output, `"key":"value"`) {
			t.Errorf("expected JSON format with key-value, got: %s", output)
		}
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(
			WithOutput(&buf),
			WithFormat(FormatText),
		)

		logger.Info("test message", "key", "value")
		output := buf.String()

		if !strings.Contains(output, "key=value") {
			t.Errorf("expected text format with key=value, got: %s", output)
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", "debug", slog.LevelDebug, false},
		{"info", "info", slog.LevelInfo, false},
		{"empty defaults to info", "", slog.LevelInfo, false},
		{"warn", "warn", slog.LevelWarn, false},
		{"warning alias", "warning", slog.LevelWarn, false},
		{"error", "error", slog.LevelError, false},
		{"mixed case", "DEBUG", slog.LevelDebug, false},
		{"unknown", "verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWithDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(
		WithOutput(&buf),
		WithDebug(),
	)

	logger.Debug("debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("WithDebug should enable debug logging")
	}
}
