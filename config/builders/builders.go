// Package builders 在 init 中注册内置骨干网络：
//
//   - local：哈希分词器 + 嵌入表 Transformer 替身 + 网格池化图像提取器（离线、确定性）
//   - remote：RemoteRegistry（HTTP 模型服务，带熔断）
package builders

import (
	"context"
	"io"

	"github.com/rushteam/ctrkit/backbone"
	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/model"
)

func init() {
	config.Register("local", BuildLocal)
	config.Register("remote", BuildRemote)
}

// BuildLocal 构建本地确定性骨干网络，图像特征宽度与 model.image_variant 一致。
func BuildLocal(_ context.Context, cfg *config.Config) (model.Backbones, io.Closer, error) {
	width, ok := encoder.Variants[cfg.Model.ImageVariant]
	if !ok {
		return model.Backbones{}, nil, core.NewConfigurationError(core.ModuleBackbone,
			"unsupported image variant %q (supported: %v)", cfg.Model.ImageVariant, encoder.SupportedVariants())
	}
	local := cfg.Backbone.Local
	return model.Backbones{
		Tokenizer: backbone.NewHashTokenizer(local.VocabSize),
		Text:      backbone.NewEmbeddingTransformer(local.VocabSize, local.HiddenSize, local.Seed),
		Image:     backbone.NewGridPoolExtractor(width, local.Seed+1),
	}, nil, nil
}

// BuildRemote 构建远程骨干网络，并在启动时 Ping 一次。
func BuildRemote(ctx context.Context, cfg *config.Config) (model.Backbones, io.Closer, error) {
	width, ok := encoder.Variants[cfg.Model.ImageVariant]
	if !ok {
		return model.Backbones{}, nil, core.NewConfigurationError(core.ModuleBackbone,
			"unsupported image variant %q (supported: %v)", cfg.Model.ImageVariant, encoder.SupportedVariants())
	}
	rc := cfg.Backbone.Remote
	if rc.Endpoint == "" {
		return model.Backbones{}, nil, core.NewConfigurationError(core.ModuleBackbone, "remote backbone endpoint is required")
	}
	opts := []backbone.RemoteOption{backbone.WithRemoteBreaker(rc.FailureThreshold, rc.OpenTimeout)}
	if rc.Timeout > 0 {
		opts = append(opts, backbone.WithRemoteTimeout(rc.Timeout))
	}
	r := backbone.NewRemoteRegistry(rc.Endpoint, cfg.Model.ImageVariant, rc.HiddenSize, width, opts...)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return model.Backbones{}, nil, err
	}
	return model.Backbones{Tokenizer: r, Text: r, Image: r}, r, nil
}
