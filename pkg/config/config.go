// Package config loads service configuration from a YAML file with
// environment fallbacks.
package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines the service configuration.
type Config struct {
	ListenAddr              string `yaml:"listen_addr"`
	DBPath                  string `yaml:"db_path"`
	AutoCreateAccounts      bool   `yaml:"auto_create_accounts"`
	FutureDateToleranceDays int    `yaml:"future_date_tolerance_days"`
	// BonusAttribution is "lot" (per-lot, the default) or "account".
	BonusAttribution   string `yaml:"bonus_attribution"`
	DefaultMonthlyRate string `yaml:"default_monthly_rate"`
}

// Load reads config from the file named by FREDYIELD_CONFIG when set,
// then fills gaps from environment variables and defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:              getenvDefault("FREDYIELD_LISTEN_ADDR", ":8080"),
		DBPath:                  getenvDefault("FREDYIELD_DB_PATH", "fredyield.db"),
		AutoCreateAccounts:      getenvBoolDefault("FREDYIELD_AUTO_CREATE_ACCOUNTS", true),
		FutureDateToleranceDays: getenvIntDefault("FREDYIELD_FUTURE_DATE_TOLERANCE_DAYS", 1),
		BonusAttribution:        getenvDefault("FREDYIELD_BONUS_ATTRIBUTION", "lot"),
		DefaultMonthlyRate:      getenvDefault("FREDYIELD_DEFAULT_MONTHLY_RATE", "0.01"),
	}

	if path := os.Getenv("FREDYIELD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.BonusAttribution != "lot" && cfg.BonusAttribution != "account" {
		return cfg, errors.New("bonus_attribution must be \"lot\" or \"account\"")
	}
	if cfg.DBPath == "" {
		return cfg, errors.New("db_path required")
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
