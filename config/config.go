package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minPollInterval is the floor for the price poll and reconciliation
// intervals. Shorter values hammer the ticker endpoint for no benefit.
const minPollInterval = 5 * time.Second

// Config holds all application configuration.
type Config struct {
	// Binance API (public ticker endpoints work without keys)
	BinanceAPIKey    string
	BinanceSecretKey string
	IsTestnet        bool

	// Price feed / reconciliation
	PollInterval time.Duration

	// DeepSeek classifier
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string

	// Database
	DBPath string

	// Trader registry
	TradersFile string

	// HTTP API
	HTTPAddr string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogConsole    bool
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Binance
	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	// Poll interval, clamped to the floor rather than rejected
	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 15)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}

	// DeepSeek (empty key disables classification, not an error)
	cfg.DeepSeekAPIKey = getEnv("DEEPSEEK_API_KEY", "")
	cfg.DeepSeekBaseURL = getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1")
	cfg.DeepSeekModel = getEnv("DEEPSEEK_MODEL", "deepseek-chat")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/tradewatch.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Trader registry
	cfg.TradersFile = getEnv("TRADERS_FILE", "./config/traders.yaml")
	if cfg.TradersFile == "" {
		errs = append(errs, "TRADERS_FILE must be set")
	}

	// HTTP API
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 28)
	cfg.LogConsole = getEnvAsBool("LOG_CONSOLE", false)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
