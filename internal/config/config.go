package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Working storage
	WorkDir    string // temp copies, separated stems, preview file
	LedgerPath string // sqlite history; empty disables it

	// Batch defaults
	ChannelCount int    // 5 or 7
	Hardware     string // gpu or cpu

	// Separation model
	SeparatorPython     string
	SeparatorScript     string
	SeparatorModelType  string
	SeparatorConfigPath string
	SeparatorCheckpoint string

	FFmpegPath string

	// Preview audition
	AuditionCrossfade time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("SURROUNDMIX_PORT", 5000),

		WorkDir:    envStr("SURROUNDMIX_WORK_DIR", "temp"),
		LedgerPath: envOptional("SURROUNDMIX_LEDGER_PATH", "data/surroundmix.db"),

		ChannelCount: envInt("SURROUNDMIX_CHANNELS", 5),
		Hardware:     envStr("SURROUNDMIX_HARDWARE", "gpu"),

		SeparatorPython:     envStr("SEPARATOR_PYTHON", "python"),
		SeparatorScript:     envStr("SEPARATOR_SCRIPT", "logic_bsroformer/inference.py"),
		SeparatorModelType:  envStr("SEPARATOR_MODEL_TYPE", "bs_roformer"),
		SeparatorConfigPath: envStr("SEPARATOR_CONFIG_PATH", "logic_bsroformer/configs/logic_pro_config_v1.yaml"),
		SeparatorCheckpoint: envStr("SEPARATOR_CHECKPOINT", "logic_bsroformer/models/logic_roformer.pt"),

		FFmpegPath: envStr("FFMPEG_PATH", "ffmpeg"),

		AuditionCrossfade: time.Duration(envFloat("SURROUNDMIX_AUDITION_CROSSFADE", 2) * float64(time.Second)),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOptional is envStr, except that a variable set to "" stays empty.
func envOptional(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
