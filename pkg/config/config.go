package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the bot process.
type Config struct {
	BotToken    string
	AdminChatID int64

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiKey   string
	GeminiModel string

	RedisAddr string
	RedisDB   int

	HistoryMaxTurns int
	HistoryTTL      time.Duration
	TokenBudget     int
	CacheSize       int

	EditInterval    time.Duration
	MinFirstEdit    int
	StallTimeout    time.Duration
	GenerateRetries int
	HealthInterval  time.Duration

	UsageDBPath    string
	PromptPackPath string
}

// FromEnv builds the config from the environment, with env.config (or
// the file named by UMKA_ENV_CONFIG) supplying defaults for unset
// variables.
func FromEnv() (Config, error) {
	fileVals := ReadEnvConfig(getEnvOrDefault("UMKA_ENV_CONFIG", "env.config"))
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v, ok := fileVals[key]; ok && v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		BotToken:        get("TELEGRAM_BOT_TOKEN", ""),
		AdminChatID:     parseInt64(get("ADMIN_CHAT_ID", "0")),
		OpenAIKey:       get("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   get("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:     get("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiKey:       get("GEMINI_API_KEY", ""),
		GeminiModel:     get("GEMINI_MODEL", "gemini-2.0-flash"),
		RedisAddr:       get("REDIS_ADDR", "localhost:6379"),
		RedisDB:         parseInt(get("REDIS_DB", "0")),
		HistoryMaxTurns: parseInt(get("HISTORY_MAX_TURNS", "30")),
		HistoryTTL:      parseDuration(get("HISTORY_TTL", "168h")),
		TokenBudget:     parseInt(get("TOKEN_BUDGET", "3000")),
		CacheSize:       parseInt(get("ANSWER_CACHE_SIZE", "4096")),
		EditInterval:    parseDuration(get("EDIT_INTERVAL", "400ms")),
		MinFirstEdit:    parseInt(get("MIN_FIRST_EDIT", "32")),
		StallTimeout:    parseDuration(get("STREAM_STALL_TIMEOUT", "30s")),
		GenerateRetries: parseInt(get("GENERATE_RETRIES", "3")),
		HealthInterval:  parseDuration(get("KV_HEALTH_INTERVAL", "60s")),
		UsageDBPath:     get("USAGE_DB_PATH", "usage.db"),
		PromptPackPath:  get("PROMPT_PACK_PATH", ""),
	}

	if cfg.BotToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.OpenAIKey == "" {
		return cfg, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
