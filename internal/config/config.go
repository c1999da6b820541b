// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. All fields are populated from
// environment variables with documented defaults; malformed values are
// rejected at load time, not at first use.
type Config struct {
	DataDir  string // Base directory for databases (default "./data", always absolute)
	Port     int    // HTTP port (default 8080)
	LogLevel string // debug, info, warn, error (default "info")
	DevMode  bool   // Pretty console logging

	MaxWorkers         int            // Worker pool size for sweep/bootstrap work (default: NumCPU)
	SimulationTimeout  time.Duration  // Per-bootstrap-batch timeout, MC_SIMULATION_TIMEOUT (default 300s)
	IntradayCacheTTL   time.Duration  // TTL for intraday cache entries; 0 = until data version changes
	ExchangeTimezone   *time.Location // Timezone for the daily cache boundary (default America/New_York)
	SyncSweepThreshold int            // Max combination count served synchronously (default 200)
}

// Load reads configuration from environment variables, honouring a .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tzName := getEnv("EXCHANGE_TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid EXCHANGE_TIMEZONE %q: %w", tzName, err)
	}

	simTimeout, err := getEnvAsSeconds("MC_SIMULATION_TIMEOUT", 300)
	if err != nil {
		return nil, err
	}
	intradayTTL, err := getEnvAsSeconds("CACHE_INTRADAY_TTL", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		MaxWorkers:         getEnvAsInt("MAX_WORKERS", runtime.NumCPU()),
		SimulationTimeout:  simTimeout,
		IntradayCacheTTL:   intradayTTL,
		ExchangeTimezone:   loc,
		SyncSweepThreshold: getEnvAsInt("SYNC_SWEEP_THRESHOLD", 200),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if c.SimulationTimeout <= 0 {
		return fmt.Errorf("MC_SIMULATION_TIMEOUT must be positive, got %s", c.SimulationTimeout)
	}
	if c.SyncSweepThreshold < 0 {
		return fmt.Errorf("SYNC_SWEEP_THRESHOLD must not be negative, got %d", c.SyncSweepThreshold)
	}
	return nil
}

// Helper functions
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

func getEnvAsSeconds(key string, defaultSeconds int) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return time.Duration(defaultSeconds) * time.Second, nil
	}
	secs, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return time.Duration(secs) * time.Second, nil
}
