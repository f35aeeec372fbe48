package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInit(t *testing.T) {
	config := &Config{
		Level:  "warn",
		Debug:  true,
		Output: "stdout",
	}

	if err := Init(context.Background(), config); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	logger := GetLogger()
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %v", logger.GetLevel())
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init(context.Background(), &Config{Level: "chatty"}); err == nil {
		t.Fatal("Expected error for unknown level")
	}
}

func TestSetDebug(t *testing.T) {
	SetDebug(true)

	if GetLogger().GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level after SetDebug(true), got %v", GetLogger().GetLevel())
	}

	SetDebug(false)

	if GetLogger().GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level after SetDebug(false), got %v", GetLogger().GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"trace", zerolog.TraceLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"none", zerolog.Disabled, false},
		{"verbose", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}

		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	componentLogger := WithComponent("registry")

	if componentLogger.GetLevel() == zerolog.Disabled {
		t.Error("Component logger should not be disabled")
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEBUG", "yes")

	config := DefaultConfig()

	if config.Level != "debug" {
		t.Errorf("Expected level from LOG_LEVEL, got %q", config.Level)
	}

	if !config.Debug {
		t.Error("Expected DEBUG=yes to enable debug")
	}

	if config.Output != "stdout" {
		t.Errorf("Expected stdout output, got %q", config.Output)
	}
}

func TestDefaultConfigPrefersDaemonVariables(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TD_LOG_LEVEL", "trace")
	t.Setenv("TD_LOG_OUTPUT", "stderr")

	config := DefaultConfig()

	if config.Level != "trace" {
		t.Errorf("Expected TD_LOG_LEVEL to win, got %q", config.Level)
	}

	if config.Output != "stderr" {
		t.Errorf("Expected output from TD_LOG_OUTPUT, got %q", config.Output)
	}
}

func TestNewTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()

	if l.Info().Enabled() {
		t.Error("Test logger should discard events")
	}
}

func TestWriterLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer

	l := NewWriterLogger(&buf)
	l.Debug().Str("mac", "00:11:22:33:44:55").Msg("seen")

	if !strings.Contains(buf.String(), `"mac":"00:11:22:33:44:55"`) {
		t.Fatalf("expected debug line, got %q", buf.String())
	}

	buf.Reset()
	l.SetLevel(zerolog.WarnLevel)
	l.Info().Msg("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}

	l.SetDebug(true)
	l.Debug().Msg("visible")

	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected SetDebug to lower the level, got %q", buf.String())
	}
}
