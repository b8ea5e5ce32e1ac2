package oneformer

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 150, cfg.NumQueries)
	assert.Equal(t, 256, cfg.HiddenDim)
	assert.Equal(t, 8, cfg.NumAttentionHeads)
	assert.Equal(t, []int{4, 8, 16, 32}, cfg.Strides)
	assert.Equal(t, 96, cfg.Backbone.EmbedDim)
	assert.Equal(t, []int{3, 3, 9, 3}, cfg.Backbone.Depths)
	assert.Equal(t, 49408, cfg.TextEncoder.VocabSize)
	assert.Equal(t, 16, cfg.TextEncoder.NCtx)
	assert.NoError(t, cfg.Validate())
}

func TestConfigNumTexts(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 134, cfg.NumTexts())
}

func TestValidateFillsNilSubConfigs(t *testing.T) {
	cfg := NewConfig()
	cfg.Backbone = nil
	cfg.TextEncoder = nil

	require.NoError(t, cfg.Validate())
	assert.NotNil(t, cfg.Backbone)
	assert.NotNil(t, cfg.TextEncoder)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"wrong stage count", func(c *Config) { c.Backbone.Depths = []int{1, 1} }},
		{"zero queries", func(c *Config) { c.NumQueries = 0 }},
		{"indivisible heads", func(c *Config) { c.HiddenDim = 100; c.NumAttentionHeads = 7 }},
		{"n_ctx too large", func(c *Config) { c.TextEncoder.NCtx = c.NumQueries }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := NewConfig()
			c.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBackboneStageWidths(t *testing.T) {
	cfg := &BackboneConfig{EmbedDim: 16, Depths: []int{1, 1, 1, 1}}
	assert.Equal(t, []int{16, 32, 64, 128}, cfg.StageWidths())

	cfg.HiddenSizes = []int{8, 8, 8, 8}
	assert.Equal(t, []int{8, 8, 8, 8}, cfg.StageWidths())
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := NewConfig()
	cfg.NumQueries = 10
	cfg.NumLabels = 4
	cfg.TextEncoder.NCtx = 4
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("config round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
