package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"", zapcore.InfoLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("NewLogger with unknown level should fail")
	}
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger returned nil logger")
	}
}

func TestGlobal(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() should never be nil")
	}

	custom := NewNoOpLogger()
	SetGlobal(custom)
	if Global() != custom {
		t.Error("Global() did not return the logger set by SetGlobal")
	}
	if L() != custom {
		t.Error("L() did not return the logger set by SetGlobal")
	}
}
