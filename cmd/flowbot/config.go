package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all flowbot daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	TickSeconds    int    `json:"tick_seconds"`
	PoolSize       int    `json:"pool_size"`
	MetricsAddr    string `json:"metrics_addr"`
	TelegramToken  string `json:"telegram_token"`
	QuoteBaseURL   string `json:"quote_base_url"`
	IndexerBaseURL string `json:"indexer_base_url"`
}

func defaultConfig() Config {
	return Config{
		DBPath:         filepath.Join(flowbotDir(), "flowbot.db"),
		LogLevel:       "info",
		TickSeconds:    30,
		PoolSize:       10,
		MetricsAddr:    ":4200",
		QuoteBaseURL:   "https://query1.finance.yahoo.com",
		IndexerBaseURL: "https://mainnet-idx.algonode.cloud",
	}
}

func flowbotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowbot"
	}
	return filepath.Join(home, ".flowbot")
}

func settingsPath() string {
	return filepath.Join(flowbotDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWBOT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWBOT_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TickSeconds = n
		}
	}
	if v := os.Getenv("FLOWBOT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FLOWBOT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("FLOWBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("FLOWBOT_QUOTE_BASE_URL"); v != "" {
		cfg.QuoteBaseURL = v
	}
	if v := os.Getenv("FLOWBOT_INDEXER_BASE_URL"); v != "" {
		cfg.IndexerBaseURL = v
	}

	return cfg
}
