package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewLogger tests logger construction at each level
func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "fatal", "INFO", ""} {
		logger, err := NewLogger(level)
		if err != nil {
			t.Errorf("NewLogger(%q) error = %v", level, err)
			continue
		}
		if logger == nil {
			t.Errorf("NewLogger(%q) returned nil logger", level)
		}
	}
}

// TestNewLogger_UnknownLevel tests rejection of unknown levels
func TestNewLogger_UnknownLevel(t *testing.T) {
	if _, err := NewLogger("verbose"); err == nil {
		t.Error("NewLogger(verbose) succeeded, want error")
	}
}

// TestParseLevel tests level string mapping
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseLevel("trace"); err == nil {
		t.Error("ParseLevel(trace) succeeded, want error")
	}
}
