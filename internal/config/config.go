package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultPromptPrefix = "Please respond only in English.\n\n"

// Config contains all runtime settings for the prompt queue service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	SurfaceRetention time.Duration

	AllowAnyOrigin bool

	ConcurrencyLimit int
	TickInterval     time.Duration
	MaxPromptRunes   int

	PageSize      int
	FlushInterval time.Duration
	FinalGrace    time.Duration
	SplitMode     string

	InferenceMode    string
	InferenceURL     string
	OpenAIBaseURL    string
	InferenceAPIKey  string
	InferenceModel   string
	InferenceRetries int
	PromptPrefix     string
	ReasoningOpen    string
	ReasoningClose   string

	DatabaseURL   string
	TranscriptDir string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "promptqueue"),
		AllowAnyOrigin:   false,
		ShutdownTimeout:  15 * time.Second,
		SurfaceRetention: 30 * time.Minute,
		ConcurrencyLimit: 3,
		TickInterval:     3 * time.Second,
		MaxPromptRunes:   4000,
		PageSize:         1800,
		FlushInterval:    2 * time.Second,
		FinalGrace:       2 * time.Second,
		SplitMode:        strings.ToLower(envOrDefault("AGGREGATOR_SPLIT_MODE", "fragment")),
		InferenceMode:    strings.ToLower(envOrDefault("INFERENCE_MODE", "auto")),
		InferenceURL:     envOrDefault("INFERENCE_URL", "http://localhost:11434/api/generate"),
		OpenAIBaseURL:    stringsTrimSpace("INFERENCE_OPENAI_BASE_URL"),
		InferenceAPIKey:  stringsTrimSpace("INFERENCE_API_KEY"),
		InferenceModel:   envOrDefault("INFERENCE_MODEL", "deepseek-r1:7b"),
		InferenceRetries: 2,
		// Set but empty disables the preamble.
		PromptPrefix:   lookupOrDefault("INFERENCE_PROMPT_PREFIX", defaultPromptPrefix),
		ReasoningOpen:  lookupOrDefault("INFERENCE_REASONING_OPEN", "<think>"),
		ReasoningClose: lookupOrDefault("INFERENCE_REASONING_CLOSE", "</think>"),
		DatabaseURL:    stringsTrimSpace("DATABASE_URL"),
		TranscriptDir:  stringsTrimSpace("TRANSCRIPT_DIR"),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SurfaceRetention, err = durationFromEnv("APP_SURFACE_RETENTION", cfg.SurfaceRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.ConcurrencyLimit, err = intFromEnv("QUEUE_CONCURRENCY_LIMIT", cfg.ConcurrencyLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.TickInterval, err = durationFromEnv("QUEUE_TICK_INTERVAL", cfg.TickInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxPromptRunes, err = intFromEnv("QUEUE_MAX_PROMPT_RUNES", cfg.MaxPromptRunes)
	if err != nil {
		return Config{}, err
	}

	cfg.PageSize, err = intFromEnv("AGGREGATOR_PAGE_SIZE", cfg.PageSize)
	if err != nil {
		return Config{}, err
	}
	cfg.FlushInterval, err = durationFromEnv("AGGREGATOR_FLUSH_INTERVAL", cfg.FlushInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.FinalGrace, err = durationFromEnv("AGGREGATOR_FINAL_GRACE", cfg.FinalGrace)
	if err != nil {
		return Config{}, err
	}

	cfg.InferenceRetries, err = intFromEnv("INFERENCE_CONNECT_RETRIES", cfg.InferenceRetries)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConcurrencyLimit <= 0 {
		return Config{}, fmt.Errorf("QUEUE_CONCURRENCY_LIMIT must be positive")
	}
	if cfg.TickInterval < 10*time.Millisecond {
		return Config{}, fmt.Errorf("QUEUE_TICK_INTERVAL must be at least 10ms")
	}
	if cfg.MaxPromptRunes < 0 {
		return Config{}, fmt.Errorf("QUEUE_MAX_PROMPT_RUNES must be >= 0")
	}
	if cfg.PageSize <= 0 {
		return Config{}, fmt.Errorf("AGGREGATOR_PAGE_SIZE must be positive")
	}
	if cfg.FlushInterval < 10*time.Millisecond {
		return Config{}, fmt.Errorf("AGGREGATOR_FLUSH_INTERVAL must be at least 10ms")
	}
	if cfg.FinalGrace < 0 {
		return Config{}, fmt.Errorf("AGGREGATOR_FINAL_GRACE must be >= 0")
	}
	switch cfg.SplitMode {
	case "fragment", "fill":
	default:
		return Config{}, fmt.Errorf("AGGREGATOR_SPLIT_MODE must be fragment or fill")
	}
	switch cfg.InferenceMode {
	case "auto", "ollama", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("INFERENCE_MODE must be one of auto, ollama, openai, mock")
	}
	if cfg.InferenceRetries < 0 {
		return Config{}, fmt.Errorf("INFERENCE_CONNECT_RETRIES must be >= 0")
	}
	if (cfg.ReasoningOpen == "") != (cfg.ReasoningClose == "") {
		return Config{}, fmt.Errorf("INFERENCE_REASONING_OPEN and INFERENCE_REASONING_CLOSE must be set together")
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

// lookupOrDefault distinguishes unset from empty and expands literal \n.
func lookupOrDefault(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.ReplaceAll(v, `\n`, "\n")
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
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
