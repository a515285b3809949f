package imagegate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default limits. The interval and caps match the storefront's published
// fair-use policy; the rest bound cost and memory.
const (
	DefaultMinInterval   = 10 * time.Second
	DefaultDailyCapFree  = 3
	DefaultDailyCapPaid  = 25
	DefaultCacheTTL      = 3 * time.Minute
	DefaultCacheCapacity = 256
	DefaultMaxInFlight   = 8
	DefaultFlushInterval = 30 * time.Second
)

// Config is the gatekeeper configuration.
type Config struct {
	// MinInterval is the minimum spacing between requests from one
	// client, across tiers.
	MinInterval time.Duration

	// DailyCapFree and DailyCapPaid are per-tier daily generation caps.
	DailyCapFree int
	DailyCapPaid int

	// CacheTTL is how long a generated image stays servable from cache.
	CacheTTL time.Duration

	// CacheCapacity bounds cache entries; zero or less means unbounded.
	CacheCapacity int

	// MaxInFlight caps concurrent upstream calls system-wide.
	MaxInFlight int

	// FlushInterval is the metrics snapshot persistence interval.
	FlushInterval time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MinInterval:   DefaultMinInterval,
		DailyCapFree:  DefaultDailyCapFree,
		DailyCapPaid:  DefaultDailyCapPaid,
		CacheTTL:      DefaultCacheTTL,
		CacheCapacity: DefaultCacheCapacity,
		MaxInFlight:   DefaultMaxInFlight,
		FlushInterval: DefaultFlushInterval,
	}
}

// withDefaults fills zero-value fields with the standard limits.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.DailyCapFree == 0 {
		c.DailyCapFree = d.DailyCapFree
	}
	if c.DailyCapPaid == 0 {
		c.DailyCapPaid = d.DailyCapPaid
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	return c
}

// Cap returns the daily cap for a tier.
func (c Config) Cap(tier Tier) int {
	if tier == TierPaid {
		return c.DailyCapPaid
	}
	return c.DailyCapFree
}

func (c Config) caps() map[Tier]int {
	return map[Tier]int{TierFree: c.DailyCapFree, TierPaid: c.DailyCapPaid}
}

// yamlConfig is the on-disk shape; durations are strings for
// time.ParseDuration.
type yamlConfig struct {
	MinInterval   string `yaml:"min_interval"`
	DailyCapFree  int    `yaml:"daily_cap_free"`
	DailyCapPaid  int    `yaml:"daily_cap_paid"`
	CacheTTL      string `yaml:"cache_ttl"`
	CacheCapacity int    `yaml:"cache_capacity"`
	MaxInFlight   int    `yaml:"max_in_flight"`
	FlushInterval string `yaml:"flush_interval"`
}

// LoadConfig reads and parses a YAML config file. Environment variables in
// the format ${VAR} are expanded before parsing; omitted fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("imagegate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var yc yamlConfig
	if err := yaml.Unmarshal([]byte(expanded), &yc); err != nil {
		return Config{}, fmt.Errorf("imagegate: parse config: %w", err)
	}

	cfg := DefaultConfig()
	if yc.MinInterval != "" {
		if cfg.MinInterval, err = time.ParseDuration(yc.MinInterval); err != nil {
			return Config{}, fmt.Errorf("imagegate: config: min_interval: %w", err)
		}
	}
	if yc.CacheTTL != "" {
		if cfg.CacheTTL, err = time.ParseDuration(yc.CacheTTL); err != nil {
			return Config{}, fmt.Errorf("imagegate: config: cache_ttl: %w", err)
		}
	}
	if yc.FlushInterval != "" {
		if cfg.FlushInterval, err = time.ParseDuration(yc.FlushInterval); err != nil {
			return Config{}, fmt.Errorf("imagegate: config: flush_interval: %w", err)
		}
	}
	if yc.DailyCapFree > 0 {
		cfg.DailyCapFree = yc.DailyCapFree
	}
	if yc.DailyCapPaid > 0 {
		cfg.DailyCapPaid = yc.DailyCapPaid
	}
	if yc.CacheCapacity != 0 {
		cfg.CacheCapacity = yc.CacheCapacity
	}
	if yc.MaxInFlight > 0 {
		cfg.MaxInFlight = yc.MaxInFlight
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.MinInterval < 0 {
		return fmt.Errorf("imagegate: config: min_interval must not be negative")
	}
	if c.DailyCapFree <= 0 || c.DailyCapPaid <= 0 {
		return fmt.Errorf("imagegate: config: daily caps must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("imagegate: config: cache_ttl must be positive")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("imagegate: config: max_in_flight must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("imagegate: config: flush_interval must be positive")
	}
	return nil
}
