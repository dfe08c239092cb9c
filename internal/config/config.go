// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface is the read-only view of the configuration handed to components.
type Interface interface {
	Logger() LoggerConfig
	Arena() ArenaConfig
	Tree() TreeConfig
	Events() EventsConfig
	Bus() BusConfig
	Metrics() MetricsConfig
	Stress() StressConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	ArenaCfg   ArenaConfig   `mapstructure:"arena" yaml:"arena"`
	TreeCfg    TreeConfig    `mapstructure:"tree" yaml:"tree"`
	EventsCfg  EventsConfig  `mapstructure:"events" yaml:"events"`
	BusCfg     BusConfig     `mapstructure:"bus" yaml:"bus"`
	MetricsCfg MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	StressCfg  StressConfig  `mapstructure:"stress" yaml:"stress"`
}

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Arena() ArenaConfig     { return c.ArenaCfg }
func (c *Config) Tree() TreeConfig       { return c.TreeCfg }
func (c *Config) Events() EventsConfig   { return c.EventsCfg }
func (c *Config) Bus() BusConfig         { return c.BusCfg }
func (c *Config) Metrics() MetricsConfig { return c.MetricsCfg }
func (c *Config) Stress() StressConfig   { return c.StressCfg }

// LoggerConfig defines all settings related to logging.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ArenaConfig sizes the node arena.
type ArenaConfig struct {
	// Capacity caps live plus free slots; 0 is unbounded.
	Capacity            int     `mapstructure:"capacity" yaml:"capacity"`
	InitialSize         int     `mapstructure:"initial_size" yaml:"initial_size"`
	CompactionThreshold float64 `mapstructure:"compaction_threshold" yaml:"compaction_threshold"`
}

// TreeConfig holds the hierarchy limits.
type TreeConfig struct {
	MaxTreeDepth    int  `mapstructure:"max_tree_depth" yaml:"max_tree_depth"`
	MaxChildren     int  `mapstructure:"max_children" yaml:"max_children"`
	EnableShadowDOM bool `mapstructure:"enable_shadow_dom" yaml:"enable_shadow_dom"`
}

// EventsConfig configures the dispatcher.
type EventsConfig struct {
	// RecoverPanics turns listener panics into errors instead of re-raising.
	RecoverPanics bool `mapstructure:"recover_panics" yaml:"recover_panics"`
}

type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// StressConfig holds the defaults of the stress command.
type StressConfig struct {
	Workers    int `mapstructure:"workers" yaml:"workers"`
	Operations int `mapstructure:"operations" yaml:"operations"`
	// RatePerSecond throttles the whole workload; 0 disables the limiter.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	// CollectEvery runs a collection after this many operations per worker.
	CollectEvery int `mapstructure:"collect_every" yaml:"collect_every"`
}

// NewDefaultConfig returns a configuration populated from SetDefaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "domcore")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Arena --
	v.SetDefault("arena.capacity", 0)
	v.SetDefault("arena.initial_size", 1024)
	v.SetDefault("arena.compaction_threshold", 0.5)

	// -- Tree --
	v.SetDefault("tree.max_tree_depth", 0)
	v.SetDefault("tree.max_children", 0)
	v.SetDefault("tree.enable_shadow_dom", true)

	// -- Events --
	v.SetDefault("events.recover_panics", true)

	// -- Bus --
	v.SetDefault("bus.buffer_size", 64)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "domcore")

	// -- Stress --
	v.SetDefault("stress.workers", 8)
	v.SetDefault("stress.operations", 2000)
	v.SetDefault("stress.rate_per_second", 0)
	v.SetDefault("stress.collect_every", 250)
}

// ConfigureViper points v at the config file, or at config.yaml in the
// working directory and ~/.domcore, and binds DOMCORE_* environment
// variables.
func ConfigureViper(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("could not expand config path %q: %w", cfgFile, err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".domcore"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DOMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// NewConfigFromViper creates a validated configuration from v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.ArenaCfg.Capacity < 0 {
		return fmt.Errorf("arena.capacity must not be negative")
	}
	if c.ArenaCfg.InitialSize < 0 {
		return fmt.Errorf("arena.initial_size must not be negative")
	}
	if t := c.ArenaCfg.CompactionThreshold; t < 0 || t > 1 {
		return fmt.Errorf("arena.compaction_threshold must be between 0.0 and 1.0")
	}
	if c.ArenaCfg.Capacity > 0 && c.ArenaCfg.InitialSize > c.ArenaCfg.Capacity {
		return fmt.Errorf("arena.initial_size must not exceed arena.capacity")
	}
	if c.TreeCfg.MaxTreeDepth < 0 || c.TreeCfg.MaxChildren < 0 {
		return fmt.Errorf("tree limits must not be negative")
	}
	if c.BusCfg.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative")
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required when metrics are enabled")
	}
	if err := c.StressCfg.Validate(); err != nil {
		return fmt.Errorf("stress configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the stress workload settings.
func (s *StressConfig) Validate() error {
	if s.Workers <= 0 {
		return fmt.Errorf("workers must be a positive integer")
	}
	if s.Operations <= 0 {
		return fmt.Errorf("operations must be a positive integer")
	}
	if s.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second must not be negative")
	}
	if s.CollectEvery < 0 {
		return fmt.Errorf("collect_every must not be negative")
	}
	return nil
}
