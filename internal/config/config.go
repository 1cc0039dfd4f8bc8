// Package config provides configuration types for RuleGate.
//
// Configuration is file-based (rulegate.yaml) with environment overrides.
// The schema is intentionally small: server listener, rule store location,
// decision cache, and dev mode.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for RuleGate.
type Config struct {
	// Server configures the HTTP API listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store configures the rule persistence.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Cache configures the tool-decision cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Audit configures the tool-decision log.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// HTTP only; use a reverse proxy for TLS.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8085").
	// Defaults to "127.0.0.1:8085" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// StoreConfig configures where rules are persisted.
type StoreConfig struct {
	// RulesPath is the path of the rules.json document.
	// Defaults to "./rules.json". Created on first use if missing.
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path" validate:"omitempty,rules_path"`
}

// CacheConfig configures the bounded decision cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached tool decisions.
	// Defaults to 1000. Zero means the default; negative is invalid.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"omitempty,min=0"`
}

// AuditConfig configures the decision log.
type AuditConfig struct {
	// Dir is the directory for decision log files.
	// Empty disables decision logging.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is how many days of decision logs to keep.
	// Defaults to 7 when logging is enabled.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
}

// Enabled reports whether decision logging is configured.
func (a AuditConfig) Enabled() bool {
	return a.Dir != ""
}

// Defaults used when fields are left empty.
const (
	DefaultHTTPAddr     = "127.0.0.1:8085"
	DefaultLogLevel     = "info"
	DefaultRulesPath    = "./rules.json"
	DefaultCacheEntries = 1000
	DefaultAuditDays    = 7
)

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Store.RulesPath == "" {
		c.Store.RulesPath = DefaultRulesPath
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheEntries
	}
	if c.Audit.Enabled() && c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = DefaultAuditDays
	}
}

// SetDevDefaults applies development overrides. DevMode forces debug logging.
func (c *Config) SetDevDefaults() {
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}
}

// ConfigFileUsed returns the path of the config file viper loaded, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// FileExists reports whether the given path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
