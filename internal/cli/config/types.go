// Package config provides configuration management for the leaplint CLI.
//
// Values are layered: built-in defaults, then leaplint.yaml, then LEAPLINT_*
// environment variables, then explicitly set command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/leaplint/internal/starengine"
)

// Store kinds.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Engine modes.
const (
	EngineSync  = "sync"
	EngineAsync = "async"
)

// Default configuration values.
const (
	DefaultBundleURL   = "builtin:" + starengine.DefaultBundle
	DefaultLoadTimeout = 10 * time.Second
	DefaultStoreKind   = StoreSQLite
	DefaultSQLitePath  = ".leaplint/rules.db"
	DefaultFilePath    = ".leaplint/rules.yaml"
	DefaultEngineMode  = EngineSync
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogLevel    = "warn"
	DefaultServerAddr  = "127.0.0.1:8765"
)

// Config holds all CLI configuration options.
type Config struct {
	BundleURL    string        `koanf:"bundle_url" validate:"required"`
	LoadTimeout  time.Duration `koanf:"load_timeout" validate:"gte=0"`
	Store        StoreConfig   `koanf:"store"`
	Engine       EngineConfig  `koanf:"engine"`
	Rules        RulesConfig   `koanf:"rules"`
	Server       ServerConfig  `koanf:"server"`
	OutputFormat string        `koanf:"output" validate:"oneof=auto text markdown json"`
	Verbose      bool          `koanf:"verbose"`
	LogLevel     string        `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// StoreConfig selects where custom rules are persisted.
// An empty Path picks the default for the kind.
type StoreConfig struct {
	Kind string `koanf:"kind" validate:"oneof=sqlite file memory"`
	Path string `koanf:"path"`
}

// EngineConfig selects the reference engine's calling convention.
type EngineConfig struct {
	Mode     string        `koanf:"mode" validate:"oneof=sync async"`
	MaxSteps uint64        `koanf:"max_steps"`
	Latency  time.Duration `koanf:"latency" validate:"gte=0"`
}

// RulesConfig holds the initial rule flags.
type RulesConfig struct {
	// Enabled lists the built-ins enabled when a session starts.
	Enabled []string `koanf:"enabled"`
	// CustomEnabled controls whether accepted custom rules start enabled.
	CustomEnabled bool `koanf:"custom_enabled"`
}

// AllRules in rules.enabled enables every built-in.
const AllRules = "*"

// DefaultEnabled returns the built-in opt-in list for a session.
// nil means every built-in starts enabled.
func (r RulesConfig) DefaultEnabled() []string {
	for _, id := range r.Enabled {
		if id == AllRules {
			return nil
		}
	}
	if r.Enabled == nil {
		return []string{}
	}
	return r.Enabled
}

// ServerConfig holds options for `leaplint serve`.
type ServerConfig struct {
	Addr  string `koanf:"addr" validate:"required,hostname_port"`
	Watch string `koanf:"watch"`
}

// StorePath returns the configured store path, or the default for the store kind.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Kind {
	case StoreFile:
		return DefaultFilePath
	case StoreSQLite:
		return DefaultSQLitePath
	default:
		return ""
	}
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		BundleURL:    DefaultBundleURL,
		LoadTimeout:  DefaultLoadTimeout,
		Store:        StoreConfig{Kind: DefaultStoreKind},
		Engine:       EngineConfig{Mode: DefaultEngineMode},
		Rules:        RulesConfig{Enabled: append([]string(nil), starengine.DefaultEnabled...), CustomEnabled: true},
		Server:       ServerConfig{Addr: DefaultServerAddr},
		OutputFormat: DefaultOutput,
		LogLevel:     DefaultLogLevel,
	}
}
