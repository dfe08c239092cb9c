// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "domcore", cfg.Logger().ServiceName)
	assert.Equal(t, "green", cfg.Logger().Colors.Info)
	assert.Equal(t, 1024, cfg.Arena().InitialSize)
	assert.Equal(t, 0.5, cfg.Arena().CompactionThreshold)
	assert.True(t, cfg.Tree().EnableShadowDOM)
	assert.Zero(t, cfg.Tree().MaxTreeDepth)
	assert.True(t, cfg.Events().RecoverPanics)
	assert.Equal(t, 64, cfg.Bus().BufferSize)
	assert.False(t, cfg.Metrics().Enabled)
	assert.Equal(t, 8, cfg.Stress().Workers)
	require.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"negative capacity", func(c *Config) { c.ArenaCfg.Capacity = -1 }, "arena.capacity must not be negative"},
		{"threshold above one", func(c *Config) { c.ArenaCfg.CompactionThreshold = 1.5 }, "arena.compaction_threshold"},
		{"initial size above capacity", func(c *Config) {
			c.ArenaCfg.Capacity = 10
			c.ArenaCfg.InitialSize = 20
		}, "must not exceed arena.capacity"},
		{"negative limits", func(c *Config) { c.TreeCfg.MaxChildren = -3 }, "tree limits"},
		{"negative buffer", func(c *Config) { c.BusCfg.BufferSize = -1 }, "bus.buffer_size"},
		{"metrics without namespace", func(c *Config) {
			c.MetricsCfg.Enabled = true
			c.MetricsCfg.Namespace = ""
		}, "metrics.namespace"},
		{"zero workers", func(c *Config) { c.StressCfg.Workers = 0 }, "stress configuration invalid: workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
arena:
  capacity: 4096
tree:
  max_tree_depth: 64
  enable_shadow_dom: false
bus:
  buffer_size: 8
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 4096, cfg.Arena().Capacity)
		assert.Equal(t, 64, cfg.Tree().MaxTreeDepth)
		assert.False(t, cfg.Tree().EnableShadowDOM)
		assert.Equal(t, 8, cfg.Bus().BufferSize)
		// Defaults fill the rest.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("stress.operations", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "operations must be a positive integer")
	})
}

func TestConfigureViper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tree:\n  max_children: 3\nlogger:\n  level: debug\n"), 0o600))

	t.Run("explicit file and environment override", func(t *testing.T) {
		t.Setenv("DOMCORE_LOGGER_LEVEL", "warn")
		v := viper.New()
		SetDefaults(v)
		require.NoError(t, ConfigureViper(v, path))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Tree().MaxChildren)
		assert.Equal(t, "warn", cfg.Logger().Level, "environment beats the config file")
	})

	t.Run("missing default file is not an error", func(t *testing.T) {
		t.Chdir(dir)
		v := viper.New()
		SetDefaults(v)
		require.NoError(t, ConfigureViper(v, ""))
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Zero(t, cfg.Tree().MaxChildren)
	})

	t.Run("malformed explicit file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("tree: [unterminated\n"), 0o600))
		v := viper.New()
		err := ConfigureViper(v, bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}
