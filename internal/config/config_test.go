package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that might interfere
	envVars := []string{
		"SURROUNDMIX_PORT", "SURROUNDMIX_WORK_DIR", "SURROUNDMIX_LEDGER_PATH",
		"SURROUNDMIX_CHANNELS", "SURROUNDMIX_HARDWARE", "SURROUNDMIX_AUDITION_CROSSFADE",
		"SEPARATOR_PYTHON", "SEPARATOR_SCRIPT", "SEPARATOR_MODEL_TYPE",
		"SEPARATOR_CONFIG_PATH", "SEPARATOR_CHECKPOINT", "FFMPEG_PATH",
	}
	for _, k := range envVars {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.WorkDir != "temp" {
		t.Errorf("WorkDir = %q, want 'temp'", cfg.WorkDir)
	}
	if cfg.LedgerPath != "data/surroundmix.db" {
		t.Errorf("LedgerPath = %q, want default", cfg.LedgerPath)
	}
	if cfg.ChannelCount != 5 {
		t.Errorf("ChannelCount = %d, want 5", cfg.ChannelCount)
	}
	if cfg.Hardware != "gpu" {
		t.Errorf("Hardware = %q, want 'gpu'", cfg.Hardware)
	}
	if cfg.SeparatorModelType != "bs_roformer" {
		t.Errorf("SeparatorModelType = %q, want 'bs_roformer'", cfg.SeparatorModelType)
	}
	if cfg.SeparatorScript == "" || cfg.SeparatorConfigPath == "" || cfg.SeparatorCheckpoint == "" {
		t.Errorf("separator paths should have defaults: %+v", cfg)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want 'ffmpeg'", cfg.FFmpegPath)
	}
	if cfg.AuditionCrossfade != 2*time.Second {
		t.Errorf("AuditionCrossfade = %v, want 2s", cfg.AuditionCrossfade)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SURROUNDMIX_PORT", "3000")
	t.Setenv("SURROUNDMIX_WORK_DIR", "/tmp/work")
	t.Setenv("SURROUNDMIX_LEDGER_PATH", "/tmp/h.db")
	t.Setenv("SURROUNDMIX_CHANNELS", "7")
	t.Setenv("SURROUNDMIX_HARDWARE", "cpu")
	t.Setenv("SURROUNDMIX_AUDITION_CROSSFADE", "0.5")
	t.Setenv("SEPARATOR_PYTHON", "/opt/py/bin/python3")
	t.Setenv("SEPARATOR_CHECKPOINT", "/models/x.pt")
	t.Setenv("FFMPEG_PATH", "/usr/local/bin/ffmpeg")

	cfg := Load()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.WorkDir != "/tmp/work" {
		t.Errorf("WorkDir = %q, want env override", cfg.WorkDir)
	}
	if cfg.LedgerPath != "/tmp/h.db" {
		t.Errorf("LedgerPath = %q, want env override", cfg.LedgerPath)
	}
	if cfg.ChannelCount != 7 {
		t.Errorf("ChannelCount = %d, want 7", cfg.ChannelCount)
	}
	if cfg.Hardware != "cpu" {
		t.Errorf("Hardware = %q, want 'cpu'", cfg.Hardware)
	}
	if cfg.AuditionCrossfade != 500*time.Millisecond {
		t.Errorf("AuditionCrossfade = %v, want 500ms", cfg.AuditionCrossfade)
	}
	if cfg.SeparatorPython != "/opt/py/bin/python3" {
		t.Errorf("SeparatorPython = %q, want env override", cfg.SeparatorPython)
	}
	if cfg.SeparatorCheckpoint != "/models/x.pt" {
		t.Errorf("SeparatorCheckpoint = %q, want env override", cfg.SeparatorCheckpoint)
	}
	if cfg.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Errorf("FFmpegPath = %q, want env override", cfg.FFmpegPath)
	}
}

func TestEmptyLedgerPathDisables(t *testing.T) {
	t.Setenv("SURROUNDMIX_LEDGER_PATH", "")
	if cfg := Load(); cfg.LedgerPath != "" {
		t.Errorf("LedgerPath = %q, want empty", cfg.LedgerPath)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("SURROUNDMIX_PORT", "not-a-number")
	cfg := Load()
	if cfg.Port != 5000 {
		t.Errorf("Invalid int env should fallback to default: got %d, want 5000", cfg.Port)
	}
}

func TestEnvFloatInvalidFallsBack(t *testing.T) {
	t.Setenv("SURROUNDMIX_AUDITION_CROSSFADE", "slow")
	cfg := Load()
	if cfg.AuditionCrossfade != 2*time.Second {
		t.Errorf("Invalid float env should fallback to default: got %v, want 2s", cfg.AuditionCrossfade)
	}
}
