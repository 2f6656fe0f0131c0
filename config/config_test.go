package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pkg/dsl"
)

func init() {
	Register("test", func(context.Context, *Config) (model.Backbones, io.Closer, error) {
		return model.Backbones{}, nil, nil
	})
	Register("local", func(context.Context, *Config) (model.Backbones, io.Closer, error) {
		return model.Backbones{}, nil, nil
	})
	Register("remote", func(context.Context, *Config) (model.Backbones, io.Closer, error) {
		return model.Backbones{}, nil, nil
	})
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "resnet50", cfg.Model.ImageVariant)
	assert.Equal(t, []int{1024, 256, 256}, cfg.Model.HiddenWidths)
	assert.Equal(t, 5*time.Second, cfg.Service.RequestTimeout)
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
model:
  image_variant: resnet18
backbone:
  kind: test
service:
  max_concurrent: 1
  serialize: true
  cache:
    enabled: true
    ttl: 30s
rules:
  - name: long_title
    expr: candidate.title_length <= 90
    message: title too long
log:
  level: debug
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "resnet18", cfg.Model.ImageVariant)
	assert.Equal(t, 8, cfg.Model.NumClasses, "default kept")
	assert.True(t, cfg.Service.Serialize)
	assert.Equal(t, 30*time.Second, cfg.Service.Cache.TTL)
	assert.Equal(t, "memory", cfg.Service.Cache.Store.Backend)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "long_title", cfg.Rules[0].Name)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown variant", func(c *Config) { c.Model.ImageVariant = "vit" }},
		{"zero hidden width", func(c *Config) { c.Model.HiddenWidths = []int{128, 0} }},
		{"one class", func(c *Config) { c.Model.NumClasses = 1 }},
		{"unknown backbone", func(c *Config) { c.Backbone.Kind = "onnx" }},
		{"remote without endpoint", func(c *Config) { c.Backbone.Kind = "remote" }},
		{"empty bound range", func(c *Config) { c.Features.Bounds.TitleLength.Max = c.Features.Bounds.TitleLength.Min - 1 }},
		{"no checkpoint key", func(c *Config) { c.Checkpoint.Key = "" }},
		{"zero concurrency", func(c *Config) { c.Service.MaxConcurrent = 0 }},
		{"zero timeout", func(c *Config) { c.Service.RequestTimeout = 0 }},
		{"file cache", func(c *Config) {
			c.Service.Cache.Enabled = true
			c.Service.Cache.Store.Backend = "file"
		}},
		{"channel without feast", func(c *Config) { c.Channel.Enabled = true }},
		{"bad rule", func(c *Config) { c.Rules = []dsl.Rule{{Name: "x", Expr: "candidate."}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.True(t, core.IsConfiguration(cfg.Validate()), "got %v", cfg.Validate())
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":9000\"\n"), 0o644))
	cfg, err := LoadFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)

	_, err = LoadFromYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("model: [unclosed"))
	assert.True(t, core.IsConfiguration(err))
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, SupportedKinds(), "test")
	assert.True(t, IsRegistered("test"))
	assert.False(t, IsRegistered(""))

	cfg := Default()
	cfg.Backbone.Kind = "test"
	_, closer, err := BuildBackbones(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Nil(t, closer)

	cfg.Backbone.Kind = "missing"
	_, _, err = BuildBackbones(context.Background(), &cfg)
	assert.True(t, core.IsConfiguration(err), "got %v", err)
}
