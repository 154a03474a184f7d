package alttext

import (
	"github.com/hazyhaar/alttext/internal/config"
)

type (
	// Config is the annotator configuration (YAML or TOML).
	Config = config.Config
	// PageConfig is one page to watch.
	PageConfig = config.PageConfig
	// SinkConfig is one event output.
	SinkConfig = config.SinkConfig
)

// LoadConfigFile reads a .yaml, .yml or .toml configuration file.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config { return config.Default() }
