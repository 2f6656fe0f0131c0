// Package config 负责加载与校验 ctrkit 的 YAML 配置。
//
// 使用方式：
//
//	cfg, err := config.LoadFromYAML("ctrkit.yaml")
//	if err != nil { ... }
//
// 未出现在文件中的字段保留 Default() 中的默认值。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/feast"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/pkg/dsl"
	"github.com/rushteam/ctrkit/pkg/logger"
	"github.com/rushteam/ctrkit/store"
)

// Config 是 ctrkit 的完整配置。
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Backbone   BackboneConfig   `yaml:"backbone"`
	Features   FeatureConfig    `yaml:"features"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Service    ServiceConfig    `yaml:"service"`
	Rules      []dsl.Rule       `yaml:"rules"`
	Channel    ChannelConfig    `yaml:"channel"`
	Log        logger.Config    `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// ModelConfig 模型结构
type ModelConfig struct {
	ImageVariant string `yaml:"image_variant"`
	HiddenWidths []int  `yaml:"hidden_widths"`
	NumClasses   int    `yaml:"num_classes"`
	Seed         uint64 `yaml:"seed"`
}

// BackboneConfig 骨干网络来源：local（确定性替身）或 remote（模型服务）
type BackboneConfig struct {
	Kind   string              `yaml:"kind"`
	Local  LocalBackboneConfig `yaml:"local"`
	Remote RemoteBackboneConfig `yaml:"remote"`
}

type LocalBackboneConfig struct {
	VocabSize  int    `yaml:"vocab_size"`
	HiddenSize int    `yaml:"hidden_size"`
	Seed       uint64 `yaml:"seed"`
}

type RemoteBackboneConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	HiddenSize       int           `yaml:"hidden_size"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// FeatureConfig 预处理
type FeatureConfig struct {
	Bounds feature.Bounds `yaml:"bounds"`

	// BoundsSource 可选，训练流程导出的边界 JSON（文件路径或 http(s) URL），覆盖 Bounds
	BoundsSource string `yaml:"bounds_source"`

	StrictVideoLength bool `yaml:"strict_video_length"`
}

// CheckpointConfig 检查点来源
type CheckpointConfig struct {
	Store   store.Config `yaml:"store"`
	Key     string       `yaml:"key"`
	Require bool         `yaml:"require"`
}

// ServiceConfig 推理服务
type ServiceConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	Serialize      bool          `yaml:"serialize"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Cache          CacheConfig   `yaml:"cache"`
}

// CacheConfig 预测缓存
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Store   store.Config  `yaml:"store"`
}

// ChannelConfig 频道嵌入（Feast 在线特征 + 频道元数据编码器）
type ChannelConfig struct {
	Enabled      bool                     `yaml:"enabled"`
	Feast        feast.ClientConfig       `yaml:"feast"`
	Refs         feast.ChannelFeatureRefs `yaml:"refs"`
	NumNiches    int                      `yaml:"num_niches"`
	NumLanguages int                      `yaml:"num_languages"`
	EmbedDim     int                      `yaml:"embed_dim"`
}

// HTTPConfig HTTP 服务
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// Default 返回默认配置：本地骨干、resnet50、内存缓存关闭、检查点读取 ./model.ctrk。
func Default() Config {
	return Config{
		Model: ModelConfig{
			ImageVariant: encoder.DefaultVariant,
			HiddenWidths: []int{1024, 256, 256},
			NumClasses:   8,
		},
		Backbone: BackboneConfig{
			Kind:  "local",
			Local: LocalBackboneConfig{VocabSize: 4096, HiddenSize: 768},
			Remote: RemoteBackboneConfig{
				HiddenSize:       768,
				Timeout:          10 * time.Second,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Features: FeatureConfig{Bounds: feature.DefaultBounds()},
		Checkpoint: CheckpointConfig{
			Store: store.Config{Backend: "file", Dir: "."},
			Key:   "model.ctrk",
		},
		Service: ServiceConfig{
			MaxConcurrent:  4,
			RequestTimeout: 5 * time.Second,
			Cache:          CacheConfig{TTL: 10 * time.Minute, Store: store.Config{Backend: "memory"}},
		},
		Channel: ChannelConfig{
			Feast:        feast.ClientConfig{Port: 6565, Timeout: 3 * time.Second},
			Refs:         feast.DefaultChannelFeatureRefs(),
			NumNiches:    64,
			NumLanguages: 32,
			EmbedDim:     encoder.DefaultChannelEmbeddingDim,
		},
		Log: logger.Config{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:         ":8000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			MaxBodyBytes: 8 << 20,
		},
	}
}

// LoadFromYAML 从 YAML 文件加载配置并校验。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容（覆盖默认值）并校验。
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeConfiguration, err, "parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置，错误均为 CONFIGURATION。
func (c *Config) Validate() error {
	if _, ok := encoder.Variants[c.Model.ImageVariant]; !ok {
		return core.NewConfigurationError(core.ModuleService,
			"model.image_variant %q not supported (supported: %v)", c.Model.ImageVariant, encoder.SupportedVariants())
	}
	for _, w := range c.Model.HiddenWidths {
		if w <= 0 {
			return core.NewConfigurationError(core.ModuleService, "model.hidden_widths must be positive, got %v", c.Model.HiddenWidths)
		}
	}
	if c.Model.NumClasses < 2 {
		return core.NewConfigurationError(core.ModuleService, "model.num_classes must be >= 2, got %d", c.Model.NumClasses)
	}
	if !IsRegistered(c.Backbone.Kind) {
		return core.NewConfigurationError(core.ModuleService,
			"backbone.kind %q not supported (supported: %v)", c.Backbone.Kind, SupportedKinds())
	}
	if c.Backbone.Kind == "remote" && c.Backbone.Remote.Endpoint == "" {
		return core.NewConfigurationError(core.ModuleService, "backbone.remote.endpoint is required")
	}
	if err := c.Features.Bounds.Validate(); err != nil {
		return err
	}
	if c.Checkpoint.Key == "" {
		return core.NewConfigurationError(core.ModuleService, "checkpoint.key is required")
	}
	if c.Service.MaxConcurrent <= 0 {
		return core.NewConfigurationError(core.ModuleService, "service.max_concurrent must be positive, got %d", c.Service.MaxConcurrent)
	}
	if c.Service.RequestTimeout <= 0 {
		return core.NewConfigurationError(core.ModuleService, "service.request_timeout must be positive")
	}
	if c.Service.Cache.Enabled && c.Service.Cache.Store.Backend == "file" {
		return core.NewConfigurationError(core.ModuleService, "service.cache.store: file backend does not support ttl")
	}
	if c.Channel.Enabled && (c.Channel.Feast.Host == "" || c.Channel.Feast.Project == "") {
		return core.NewConfigurationError(core.ModuleService, "channel.feast host and project are required")
	}
	if _, err := dsl.Compile(c.Rules); err != nil {
		return err
	}
	return nil
}
