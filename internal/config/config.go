// Package config loads the annotator configuration from YAML or TOML files,
// chosen by file extension, and from the watch_pages SQLite table.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser" toml:"browser"`
	Pages    []PageConfig   `yaml:"pages" toml:"pages"`
	PagesDB  string         `yaml:"pages_db" toml:"pages_db"` // optional SQLite file with a watch_pages table
	Debounce DebounceConfig `yaml:"debounce" toml:"debounce"`
	Annotate AnnotateConfig `yaml:"annotate" toml:"annotate"`
	Sinks    []SinkConfig   `yaml:"sinks" toml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	Remote           string   `yaml:"remote" toml:"remote"`
	MemoryLimit      int64    `yaml:"memory_limit" toml:"memory_limit"`
	RecycleInterval  Duration `yaml:"recycle_interval" toml:"recycle_interval"`
	ResourceBlocking []string `yaml:"resource_blocking" toml:"resource_blocking"`
	Stealth          string   `yaml:"stealth" toml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display" toml:"xvfb_display"`
}

// PageConfig is one page to watch.
type PageConfig struct {
	ID           string `yaml:"id" toml:"id"`
	URL          string `yaml:"url" toml:"url"`
	StealthLevel int    `yaml:"stealth_level" toml:"stealth_level"` // 0 plain, 1 stealth, 2 headful
}

// DebounceConfig controls mutation batching.
type DebounceConfig struct {
	Window    Duration `yaml:"window" toml:"window"`
	MaxBuffer int      `yaml:"max_buffer" toml:"max_buffer"`
}

// AnnotateConfig tunes the engine.
type AnnotateConfig struct {
	// ThumbnailTestID enables the thumbnail filter when set.
	ThumbnailTestID string `yaml:"thumbnail_test_id" toml:"thumbnail_test_id"`
	Concurrency     int    `yaml:"concurrency" toml:"concurrency"`
}

// SinkConfig is one event output.
type SinkConfig struct {
	Type          string `yaml:"type" toml:"type"`                     // stdout | webhook | nats | sqlite
	URL           string `yaml:"url" toml:"url"`                       // webhook endpoint or NATS server
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"` // nats
	Path          string `yaml:"path" toml:"path"`                     // sqlite
}

// HTTPConfig enables the HTTP API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Duration accepts Go duration strings ("250ms", "4h") in both formats.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// LoadFile reads path, decoding it as TOML for a .toml extension and as
// YAML otherwise.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decode toml %s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = Duration(4 * time.Hour)
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = Duration(250 * time.Millisecond)
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "nats" && c.Sinks[i].SubjectPrefix == "" {
			c.Sinks[i].SubjectPrefix = "alttext"
		}
	}
}

// Validate rejects configurations that cannot be started.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		if p.StealthLevel < 0 || p.StealthLevel > 2 {
			return fmt.Errorf("config: pages[%d]: stealth_level %d out of range", i, p.StealthLevel)
		}
		if p.ID != "" {
			if seen[p.ID] {
				return fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID)
			}
			seen[p.ID] = true
		}
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook", "nats":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: %s needs url", i, s.Type)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sinks[%d]: sqlite needs path", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
