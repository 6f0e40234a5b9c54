// Package config loads the flat server configuration from environment
// variables, with an optional YAML file layered underneath, via
// github.com/spf13/viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the flat set of knobs the HTTP and pgwire frontends and the
// storage adapter need at startup.
type Config struct {
	Prefix   string
	HTTPPort int
	PGPort   int
	DBFolder string
	PGWire   bool
	LogLevel string
}

// Load reads "<prefix>_HTTP_PORT", "<prefix>_PG_PORT", "<prefix>_DB_FOLDER",
// "<prefix>_PGWIRE" and "<prefix>_LOG_LEVEL" from the environment, optionally
// layering a YAML file at configPath first (file values are overridden by
// env vars, matching viper's normal precedence).
func Load(prefix, configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetDefault("HTTP_PORT", 8089)
	v.SetDefault("PG_PORT", 5433)
	v.SetDefault("DB_FOLDER", "./data")
	v.SetDefault("PGWIRE", true)
	v.SetDefault("LOG_LEVEL", "info")

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
		var fileCfg map[string]any
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", configPath, err)
		}
		// File values sit between built-in defaults and the environment.
		for key, val := range fileCfg {
			v.SetDefault(strings.ToUpper(key), val)
		}
	}

	cfg := Config{
		Prefix:   strings.ToUpper(prefix),
		HTTPPort: v.GetInt("HTTP_PORT"),
		PGPort:   v.GetInt("PG_PORT"),
		DBFolder: v.GetString("DB_FOLDER"),
		PGWire:   v.GetBool("PGWIRE"),
		LogLevel: v.GetString("LOG_LEVEL"),
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("config: invalid HTTP_PORT %d", cfg.HTTPPort)
	}
	if cfg.PGPort <= 0 || cfg.PGPort > 65535 {
		return Config{}, fmt.Errorf("config: invalid PG_PORT %d", cfg.PGPort)
	}
	return cfg, nil
}

// ParseBool permissively parses a boolean from a trimmed config scalar.
func ParseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}
