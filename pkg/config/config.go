package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"scalp-core/pkg/crypto"
)

// Config holds environment-driven settings for the scalping core.
type Config struct {
	Port string

	// Market
	Symbol    string
	Intervals []string
	History   int

	// Binance USDT-M futures
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	UseMockFeed      bool

	// Paper trading replaces the venue with the in-memory exchange.
	Paper            bool
	PaperBalance     float64
	PaperSlippageBps float64

	// Database
	DBPath string

	// Logging
	LogDir string
	Debug  bool

	// Strategy presets
	Preset      string
	PresetsPath string

	// Timezone bounds the trading day for daily stats.
	Timezone string

	// Engine
	AutoStart           bool
	ReconcileInterval   time.Duration
	BalanceSyncInterval time.Duration
	StaleAfter          time.Duration

	// API
	APIRateLimit float64 // requests per second per client IP
	APIBurst     int
	CORSOrigins  []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Symbol:              strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Intervals:           splitAndTrim(getEnv("INTERVALS", "1m,5m,15m")),
		History:             getEnvInt("CANDLE_HISTORY", 200),
		BinanceTestnet:      getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		UseMockFeed:         getEnvBool("USE_MOCK_FEED", false),
		Paper:               getEnvBool("PAPER", true),
		PaperBalance:        getEnvFloat("PAPER_BALANCE", 1000),
		PaperSlippageBps:    getEnvFloat("PAPER_SLIPPAGE_BPS", 1),
		DBPath:              getEnv("DB_PATH", "./data/scalp.db"),
		LogDir:              getEnv("LOG_DIR", "./logs"),
		Debug:               getEnvBool("DEBUG", false),
		Preset:              strings.ToLower(getEnv("PRESET", "scalp")),
		PresetsPath:         getEnv("PRESETS_PATH", ""),
		Timezone:            getEnv("TIMEZONE", "UTC"),
		AutoStart:           getEnvBool("AUTO_START", false),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 15*time.Second),
		BalanceSyncInterval: getEnvDuration("BALANCE_SYNC_INTERVAL", time.Minute),
		StaleAfter:          getEnvDuration("STALE_AFTER", 5*time.Second),
		APIRateLimit:        getEnvFloat("API_RATE_LIMIT", 20),
		APIBurst:            getEnvInt("API_BURST", 40),
		CORSOrigins:         splitAndTrim(getEnv("CORS_ORIGINS", "*")),
	}
	if err := cfg.revealCredentials(crypto.KeyringFromEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// revealCredentials opens API credentials stored sealed (ENC[vN]:...). The
// keyring is only loaded when a sealed value is present.
func (c *Config) revealCredentials(keyring func() (*crypto.Keyring, error)) error {
	if !crypto.IsSealed(c.BinanceAPIKey) && !crypto.IsSealed(c.BinanceAPISecret) {
		return nil
	}
	kr, err := keyring()
	if err != nil {
		return fmt.Errorf("sealed credentials: %w", err)
	}
	if c.BinanceAPIKey, err = kr.Reveal(c.BinanceAPIKey); err != nil {
		return fmt.Errorf("BINANCE_API_KEY: %w", err)
	}
	if c.BinanceAPISecret, err = kr.Reveal(c.BinanceAPISecret); err != nil {
		return fmt.Errorf("BINANCE_API_SECRET: %w", err)
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL is required")
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("INTERVALS is required")
	}
	if !c.Paper && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required when PAPER=false")
	}
	if c.Paper && c.PaperBalance <= 0 {
		return fmt.Errorf("PAPER_BALANCE must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
