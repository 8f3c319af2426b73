// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir           string   // Base directory for databases (always absolute)
	Port              int
	LogLevel          string
	DevMode           bool
	Assets            []string // Asset identifiers used by the scheduled recompute
	FrontierPoints    int      // Number of target-return samples per sweep
	LookbackDays      int      // Price history window for statistics
	SolveTimeoutSecs  int      // Per-solve timeout; expiry is treated as a solver error
	RecomputeSchedule string   // Cron spec for the background frontier job
	Solver            string   // "activeset" or "cvx"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FRONTIER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("GO_PORT", 8001),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		Assets:            getEnvAsList("FRONTIER_ASSETS", nil),
		FrontierPoints:    getEnvAsInt("FRONTIER_POINTS", 25),
		LookbackDays:      getEnvAsInt("LOOKBACK_DAYS", 252),
		SolveTimeoutSecs:  getEnvAsInt("SOLVE_TIMEOUT_SECONDS", 30),
		RecomputeSchedule: getEnv("RECOMPUTE_SCHEDULE", "@every 6h"),
		Solver:            getEnv("SOLVER", "activeset"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.FrontierPoints < 1 {
		return fmt.Errorf("FRONTIER_POINTS must be >= 1, got %d", c.FrontierPoints)
	}
	if c.SolveTimeoutSecs < 1 {
		return fmt.Errorf("SOLVE_TIMEOUT_SECONDS must be >= 1, got %d", c.SolveTimeoutSecs)
	}
	switch c.Solver {
	case "activeset", "cvx":
	default:
		return fmt.Errorf("SOLVER must be \"activeset\" or \"cvx\", got %q", c.Solver)
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
