package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
	if cfg.Output == nil {
		t.Error("Expected default output to be set")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		emit  func(zerolog.Logger, string)
	}{
		{"info_level", LevelInfo, func(l zerolog.Logger, m string) { l.Info().Msg(m) }},
		{"debug_level", LevelDebug, func(l zerolog.Logger, m string) { l.Debug().Msg(m) }},
		{"warn_level", LevelWarn, func(l zerolog.Logger, m string) { l.Warn().Msg(m) }},
		{"error_level", LevelError, func(l zerolog.Logger, m string) { l.Error().Msg(m) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			tt.emit(logger, "test "+tt.name)

			if !strings.Contains(buf.String(), "test "+tt.name) {
				t.Errorf("Expected output to contain %q, got %q", "test "+tt.name, buf.String())
			}
		})
	}
}

func TestSetup_Disabled(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelDisabled, Output: buf})
	defer Setup(Config{Level: LevelInfo, Output: &bytes.Buffer{}})

	logger.Error().Msg("should not appear")

	if buf.Len() != 0 {
		t.Errorf("Expected no output when disabled, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{LevelDisabled, zerolog.Disabled},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("test-component")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"component":"test-component"`) {
		t.Errorf("Expected output to contain component field, got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got %q", output)
	}
}

func TestServiceLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	logger := ServiceLogger(&base, "poll", "da")
	logger.Info().Msg("work item done")

	output := buf.String()
	for _, want := range []string{`"component":"poll"`, `"service":"da"`, "work item done"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got %q", want, output)
		}
	}
}

func TestSubsystem_KeepsCallerComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)
	service := ServiceLogger(&base, "aps", "oss")

	logger := Subsystem(&service, "upload")
	logger.Info().Msg("upload committed")

	output := buf.String()
	if n := strings.Count(output, `"component":`); n != 1 {
		t.Errorf("Expected exactly one component field, got %d in %q", n, output)
	}
	for _, want := range []string{`"component":"aps"`, `"service":"oss"`, `"subsystem":"upload"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got %q", want, output)
		}
	}
}

func TestSubsystem_NilUsesGlobalComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := Subsystem(nil, "pagination")
	logger.Info().Msg("collection complete")

	output := buf.String()
	if !strings.Contains(output, `"component":"pagination"`) {
		t.Errorf("Expected component field, got %q", output)
	}
	if strings.Contains(output, `"subsystem"`) {
		t.Errorf("Expected no subsystem field, got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("test")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be included at Warn level")
	}
}
