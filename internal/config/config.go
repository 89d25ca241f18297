// Package config handles aibadge configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/aibadge/confirm"
	"github.com/hazyhaar/aibadge/disclosure"
	"github.com/hazyhaar/aibadge/idcache"
)

// Config is the top-level aibadge configuration.
type Config struct {
	ListURL      string `yaml:"list_url"`
	DetailURL    string `yaml:"detail_url"`
	MarkerPhrase string `yaml:"marker_phrase"`
	// ConfirmRule selects how a fetched detail page is classified:
	// "phrase" (marker phrase anywhere in the body) or "section" (descriptor
	// section heading through the disclosure rules).
	ConfirmRule string        `yaml:"confirm_rule"`
	TTL         time.Duration `yaml:"ttl"`
	FetchDelay  time.Duration `yaml:"fetch_delay"`
	UserAgent   string        `yaml:"user_agent"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	DBPath      string        `yaml:"db_path"`
	StartURL    string        `yaml:"start_url"`
	HTTPAddr    string        `yaml:"http_addr"`

	Detector DetectorConfig    `yaml:"detector"`
	Browser  BrowserConfig     `yaml:"browser"`
	Rules    *disclosure.Rules `yaml:"rules"`
}

// DetectorConfig controls change detection timing.
type DetectorConfig struct {
	Window        time.Duration `yaml:"window"`
	StartupRescan time.Duration `yaml:"startup_rescan"`
	InitDelay     time.Duration `yaml:"init_delay"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Mode             string        `yaml:"mode"` // headless | headful
	Stealth          *bool         `yaml:"stealth"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// StealthEnabled reports whether stealth tabs are used. Default: true.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EffectiveRules returns the configured rule set, or the defaults.
func (c *Config) EffectiveRules() disclosure.Rules {
	if c.Rules == nil || (len(c.Rules.Acronyms) == 0 && len(c.Rules.Stems) == 0) {
		return disclosure.DefaultRules()
	}
	return *c.Rules
}

func (c *Config) applyDefaults() {
	if c.ListURL == "" {
		c.ListURL = idcache.DefaultListURL
	}
	if c.DetailURL == "" {
		c.DetailURL = confirm.DefaultDetailURL
	}
	if c.MarkerPhrase == "" {
		c.MarkerPhrase = confirm.DefaultMarkerPhrase
	}
	if c.ConfirmRule == "" {
		c.ConfirmRule = "phrase"
	}
	if c.TTL <= 0 {
		c.TTL = idcache.DefaultTTL
	}
	if c.FetchDelay <= 0 {
		c.FetchDelay = confirm.DefaultDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = "aibadge/1.0"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.DBPath == "" {
		c.DBPath = "data/aibadge.db"
	}
	if c.StartURL == "" {
		c.StartURL = "https://store.steampowered.com/"
	}
	if c.Detector.Window <= 0 {
		c.Detector.Window = 300 * time.Millisecond
	}
	if c.Detector.StartupRescan <= 0 {
		c.Detector.StartupRescan = 500 * time.Millisecond
	}
	if c.Detector.InitDelay <= 0 {
		c.Detector.InitDelay = 300 * time.Millisecond
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
}

func (c *Config) validate() error {
	switch c.ConfirmRule {
	case "phrase", "section":
	default:
		return fmt.Errorf("config: confirm_rule %q: want phrase or section", c.ConfirmRule)
	}
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	return nil
}
