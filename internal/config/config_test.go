package config

import (
	"log/slog"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	for _, env := range []string{
		"HALFREMEMBERED_DATA_DIR", "HALFREMEMBERED_CONTROL_ADDR", "HALFREMEMBERED_CAS_PATH",
		"HALFREMEMBERED_CAS_READONLY", "HALFREMEMBERED_LOG_LEVEL", "HALFREMEMBERED_BASE_TEMPO_BPM",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"chaosgarden"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.ControlAddr != defaultControlAddr {
		t.Errorf("ControlAddr = %q, want %q", cfg.ControlAddr, defaultControlAddr)
	}
	if cfg.CASPath != defaultCASPath {
		t.Errorf("CASPath = %q, want %q", cfg.CASPath, defaultCASPath)
	}
	if cfg.CASReadOnly {
		t.Error("CASReadOnly default should be false")
	}
	if cfg.BaseTempoBPM != defaultBaseTempoBPM {
		t.Errorf("BaseTempoBPM = %v, want %v", cfg.BaseTempoBPM, defaultBaseTempoBPM)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"chaosgarden"}
	t.Setenv("HALFREMEMBERED_CAS_PATH", "/tmp/chaosgarden-test-cas")
	t.Setenv("HALFREMEMBERED_CAS_READONLY", "true")
	t.Setenv("HALFREMEMBERED_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CASPath != "/tmp/chaosgarden-test-cas" {
		t.Errorf("CASPath = %q, want /tmp/chaosgarden-test-cas", cfg.CASPath)
	}
	if !cfg.CASReadOnly {
		t.Error("CASReadOnly should be true from env override")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	os.Args = []string{"chaosgarden", "--cas-path", "/flag/path", "--log-level", "warn"}
	t.Setenv("HALFREMEMBERED_CAS_PATH", "/env/path")
	t.Setenv("HALFREMEMBERED_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CASPath != "/flag/path" {
		t.Errorf("CASPath = %q, want /flag/path (CLI should override env)", cfg.CASPath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateNonPositiveTempo(t *testing.T) {
	os.Args = []string{"chaosgarden", "--base-tempo-bpm", "0"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-positive base-tempo-bpm, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"chaosgarden", "--log-level", "verbose"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
