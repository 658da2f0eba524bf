// Package config loads runtime settings from environment variables. The
// option set is small and flat enough that a dedicated config library would
// add indirection without buying anything; every field here has a sane
// default so the service runs out of the box in dev mode.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved set of settings for one process instance.
type Config struct {
	APIHost    string
	APIPort    int
	APITimeout time.Duration

	DataDir string
	DBDSN   string // empty selects the sqlite fallback under DataDir

	LogLevel string

	LLM LLMConfig

	ExecutorHost string
	ExecutorPort int

	ReportTemplatePath string
}

// LLMConfig groups the settings that drive internal/llmapi's gateway,
// independent of which provider is selected.
type LLMConfig struct {
	Provider    string // "hmac" (default, Zhipu-style), "anthropic", "openai", "google"
	APIKey      string
	ChatModel   string
	VisionModel string
	Temperature float64
	MaxTokens   int

	RetryCount   int
	RetryDelay   time.Duration
	RetryBackoff float64
	Timeout      time.Duration
}

// Load reads the environment and fills in defaults for anything unset.
func Load() (Config, error) {
	cfg := Config{
		APIHost:    getEnv("API_HOST", "0.0.0.0"),
		APIPort:    getEnvInt("API_PORT", 8000),
		APITimeout: getEnvDuration("API_TIMEOUT", 60*time.Second),

		DataDir: getEnv("DATA_DIR", "./data"),
		DBDSN:   getEnv("DB_DSN", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "hmac"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			ChatModel:   getEnv("LLM_CHAT_MODEL", "glm-4-flash"),
			VisionModel: getEnv("LLM_VISION_MODEL", "glm-4v-flash"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 6000),

			RetryCount:   getEnvInt("LLM_RETRY_COUNT", 3),
			RetryDelay:   getEnvDuration("LLM_RETRY_DELAY", 5*time.Second),
			RetryBackoff: getEnvFloat("LLM_RETRY_BACKOFF", 2.0),
			Timeout:      getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},

		ExecutorHost: getEnv("EXECUTOR_HOST", "127.0.0.1"),
		ExecutorPort: getEnvInt("EXECUTOR_PORT", 2800),

		ReportTemplatePath: getEnv("REPORT_TEMPLATE_PATH", ""),
	}

	if cfg.LLM.Provider == "hmac" && cfg.LLM.APIKey == "" {
		return cfg, fmt.Errorf("config: LLM_API_KEY is required for the hmac provider")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
