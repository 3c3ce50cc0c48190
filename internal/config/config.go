// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables
// (and an optional .env file). Configuration loading order:
//
//  1. Load from .env file (if present)
//  2. Read environment variables, falling back to defaults
//  3. Resolve the data directory to an absolute path and create it
//  4. Validate
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode is the trading mode the orchestrator boots into.
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
	ModeHalt  Mode = "halt"
)

// Environment selects which exchange base URLs the Gateway targets.
type Environment string

const (
	EnvironmentLive    Environment = "live"
	EnvironmentTestnet Environment = "testnet"
	EnvironmentDemo    Environment = "demo"
)

// Config holds application configuration, resolved once at boot and
// passed down through the wiring container.
type Config struct {
	DataDir  string // base directory for the journal database and archives
	LogLevel string
	LogPretty bool
	Port     int // operator HTTP server port

	Mode        Mode
	Environment Environment

	APIKey    string
	APISecret string
	RecvWindowMS int

	Symbols []string

	ConfidenceThreshold float64 // signal engine minimum consensus confidence
	MinAgreeCount       int     // signal engine minimum agreeing models

	MaxOpenPositions   int
	PerSymbolCapUsd    float64 // USD notional cap, per symbol, post-fill
	MaxPortfolioExposurePct float64
	DailyLossLimitPct  float64
	StopLossPct        float64
	TakeProfitPct      float64
	VaRLimitPct        float64
	VaRConfidence      float64 // e.g. 0.99
	RiskPerTradePct    float64 // fraction of equity risked per trade before Kelly cap
	KellyCapPct        float64

	AutoTraderEnabled bool

	ReconciliationInterval time.Duration
	JournalRetentionDays   int

	ArchiveEnabled   bool
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveRegion    string
}

// Load reads configuration from environment variables.
//
// dataDirOverride, if provided and non-empty, takes priority over the
// TRADER_DATA_DIR environment variable and the built-in default.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("TRADER_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("PORT", 8080),

		Mode:        Mode(getEnv("TRADING_MODE", string(ModePaper))),
		Environment: Environment(getEnv("EXCHANGE_ENVIRONMENT", string(EnvironmentTestnet))),

		APIKey:       getEnv("EXCHANGE_API_KEY", ""),
		APISecret:    getEnv("EXCHANGE_API_SECRET", ""),
		RecvWindowMS: getEnvAsInt("RECV_WINDOW_MS", 5000),

		Symbols: getEnvAsList("TRADING_SYMBOLS", []string{"BTCUSDT"}),

		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.70),
		MinAgreeCount:       getEnvAsInt("MIN_AGREE_COUNT", 2),

		MaxOpenPositions:        getEnvAsInt("MAX_OPEN_POSITIONS", 5),
		PerSymbolCapUsd:         getEnvAsFloat("PER_SYMBOL_CAP_USD", 20000.0),
		MaxPortfolioExposurePct: getEnvAsFloat("MAX_PORTFOLIO_EXPOSURE_PCT", 0.60),
		DailyLossLimitPct:       getEnvAsFloat("DAILY_LOSS_LIMIT_PCT", 0.05),
		StopLossPct:             getEnvAsFloat("STOP_LOSS_PCT", 0.02),
		TakeProfitPct:           getEnvAsFloat("TAKE_PROFIT_PCT", 0.04),
		VaRLimitPct:             getEnvAsFloat("VAR_LIMIT_PCT", 0.10),
		VaRConfidence:           getEnvAsFloat("VAR_CONFIDENCE", 0.99),
		RiskPerTradePct:         getEnvAsFloat("RISK_PER_TRADE_PCT", 0.01),
		KellyCapPct:             getEnvAsFloat("KELLY_CAP_PCT", 0.25),

		AutoTraderEnabled: getEnvAsBool("AUTO_TRADER_ENABLED", false),

		ReconciliationInterval: time.Duration(getEnvAsInt("RECONCILIATION_INTERVAL_SEC", 30)) * time.Second,
		JournalRetentionDays:   getEnvAsInt("JOURNAL_RETENTION_DAYS", 30),

		ArchiveEnabled:   getEnvAsBool("ARCHIVE_ENABLED", false),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		ArchiveRegion:    getEnv("ARCHIVE_REGION", "auto"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// failures deep inside the orchestrator.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModePaper, ModeHalt:
	default:
		return fmt.Errorf("invalid TRADING_MODE %q", c.Mode)
	}
	if c.Mode == ModeLive && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("live mode requires EXCHANGE_API_KEY and EXCHANGE_API_SECRET")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required in TRADING_SYMBOLS")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if c.MinAgreeCount < 1 {
		return fmt.Errorf("MIN_AGREE_COUNT must be >= 1")
	}
	return nil
}

// ==========================================
// Helper functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
