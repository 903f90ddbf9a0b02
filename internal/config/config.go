// Package config provides configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"battery-pricing/internal/logging"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Engine contains evaluation settings
	Engine EngineConfig `json:"engine"`

	// Gates contains quality gate thresholds used by run summaries
	Gates GatesConfig `json:"gates"`

	// Storage contains run persistence settings
	Storage StorageConfig `json:"storage"`

	// Server contains HTTP server settings
	Server ServerConfig `json:"server"`

	// Metrics contains Prometheus settings
	Metrics MetricsConfig `json:"metrics"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// EngineConfig contains rule evaluation settings
type EngineConfig struct {
	// Workers is the number of items evaluated in parallel
	Workers int `json:"workers"`

	// MaxExpressionLength caps the source length of a single expression
	MaxExpressionLength int `json:"max_expression_length"`

	// MaxExpressionNodes caps the AST size of a single expression
	MaxExpressionNodes int `json:"max_expression_nodes"`

	// MaxExpressionDepth caps the nesting depth of a single expression
	MaxExpressionDepth int `json:"max_expression_depth"`

	// OutputKeys are extracted as outputs when a ruleset declares none
	OutputKeys []string `json:"output_keys"`
}

// GatesConfig contains quality gate thresholds.
// A nil threshold disables the gate.
type GatesConfig struct {
	// MinMarkup flags items whose markup is below this value
	MinMarkup *float64 `json:"min_markup,omitempty"`

	// MinRentabilidad flags items whose profitability is below this value
	MinRentabilidad *float64 `json:"min_rentabilidad,omitempty"`
}

// StorageConfig contains run persistence settings
type StorageConfig struct {
	// Backend is "memory" or "sqlite"
	Backend string `json:"backend"`

	// Path is the SQLite database file
	Path string `json:"path"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Addr is the listen address
	Addr string `json:"addr"`

	// RulesetsDir is loaded into the ruleset store at startup
	RulesetsDir string `json:"rulesets_dir,omitempty"`

	// Watch reloads RulesetsDir on change
	Watch bool `json:"watch"`

	// RequestTimeoutSeconds bounds a single request
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// Audit logs one entry per simulate request
	Audit bool `json:"audit"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	// Enabled exposes /metrics
	Enabled bool `json:"enabled"`

	// Namespace prefixes every metric name
	Namespace string `json:"namespace"`
}

// DefaultOutputKeys are the variables reported as outputs by default
var DefaultOutputKeys = []string{"precio_publico", "markup", "rentabilidad"}

// DefaultPath is where the CLI looks for a config file
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".battery-pricing", "config.json")
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".battery-pricing", "runs.db")

	return &Config{
		Version: "1.0",
		Engine: EngineConfig{
			Workers:             runtime.NumCPU(),
			MaxExpressionLength: 4096,
			MaxExpressionNodes:  2048,
			MaxExpressionDepth:  64,
			OutputKeys:          append([]string(nil), DefaultOutputKeys...),
		},
		Storage: StorageConfig{
			Backend: "memory",
			Path:    dbPath,
		},
		Server: ServerConfig{
			Addr:                  ":8080",
			Watch:                 false,
			RequestTimeoutSeconds: 60,
			Audit:                 true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "battery_pricing",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}
