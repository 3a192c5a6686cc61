package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview controller service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool
	DebugUI        bool
	RedactPII      bool

	IngestSecret string

	DatabaseURL string
	DBPath      string

	EngineMode       string
	EngineHTTPURL    string
	EngineTimeout    time.Duration
	EngineMaxRetries int

	MaxIntroTurns      int
	MaxExperienceTurns int
	IntroTimeout       time.Duration
	ExperienceTimeout  time.Duration

	PlanFile string
}

// Load reads environment variables and applies safe defaults. The guardrail
// variables keep their historical names: MAX_INTRO_TURNS, MAX_EXP_TURNS,
// INTRO_TIMEOUT_S and EXPERIENCE_TIMEOUT_S (the last two in whole seconds).
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "interviewd"),
		IngestSecret:     stringsTrimSpace("INGEST_SECRET"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		DBPath:           envOrDefault("DB_PATH", "data/interviews.db"),
		EngineMode:       envOrDefault("ENGINE_MODE", "auto"),
		EngineHTTPURL:    stringsTrimSpace("ENGINE_HTTP_URL"),
		PlanFile:         stringsTrimSpace("INTERVIEW_PLAN_FILE"),

		ShutdownTimeout:    15 * time.Second,
		EngineTimeout:      30 * time.Second,
		EngineMaxRetries:   2,
		MaxIntroTurns:      7,
		MaxExperienceTurns: 14,
		IntroTimeout:       420 * time.Second,
		ExperienceTimeout:  900 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DebugUI, err = boolFromEnv("APP_DEBUG_UI", cfg.DebugUI)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("APP_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineTimeout, err = durationFromEnv("ENGINE_TIMEOUT", cfg.EngineTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EngineMaxRetries, err = intFromEnv("ENGINE_MAX_RETRIES", cfg.EngineMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxIntroTurns, err = intFromEnv("MAX_INTRO_TURNS", cfg.MaxIntroTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxExperienceTurns, err = intFromEnv("MAX_EXP_TURNS", cfg.MaxExperienceTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.IntroTimeout, err = secondsFromEnv("INTRO_TIMEOUT_S", cfg.IntroTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExperienceTimeout, err = secondsFromEnv("EXPERIENCE_TIMEOUT_S", cfg.ExperienceTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxIntroTurns <= 0 {
		return Config{}, fmt.Errorf("MAX_INTRO_TURNS must be positive")
	}
	if cfg.MaxExperienceTurns <= 0 {
		return Config{}, fmt.Errorf("MAX_EXP_TURNS must be positive")
	}
	if cfg.IntroTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("INTRO_TIMEOUT_S must be at least 10")
	}
	if cfg.ExperienceTimeout < 10*time.Second {
		return Config{}, fmt.Errorf("EXPERIENCE_TIMEOUT_S must be at least 10")
	}
	if cfg.EngineMaxRetries < 0 {
		return Config{}, fmt.Errorf("ENGINE_MAX_RETRIES must be >= 0")
	}
	if cfg.EngineTimeout <= 0 {
		return Config{}, fmt.Errorf("ENGINE_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

// secondsFromEnv parses a whole-second integer value.
func secondsFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
