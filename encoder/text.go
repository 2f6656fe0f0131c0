// Package encoder 实现各模态的编码器：标题文本、缩略图、发布时间、数值统计、频道元数据。
//
// 每个编码器独立计算、互不依赖：只改动缩略图的两个候选，
// 其标题、时间、数值嵌入逐位相同。
//
// 参数命名与训练时的 state dict 保持一致（例如 "projection.0.weight"），
// 便于把训练好的权重直接导出为检查点。
package encoder

import (
	"context"
	"fmt"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/nn"
)

const (
	// TitleEmbeddingDim 标题嵌入维度
	TitleEmbeddingDim = 256

	// TitleMaxTokens 标题最大 token 数（截断 / 补齐）
	TitleMaxTokens = 32

	titleDropout = 0.1
)

// TextEncoder 标题编码器。
//
// 流程：
//   - 外部分词器：标题 → ids + attention mask（最多 32 个 token）
//   - 冻结的预训练 Transformer：ids → 每个 token 的隐藏状态
//   - 掩码平均池化：padding 不参与平均
//   - 投影：Linear(hidden, 256) → LayerNorm → Dropout（推理时恒等）
//
// 对于固定的标题与权重，输出是确定的。
type TextEncoder struct {
	Tokenizer core.Tokenizer
	Backbone  core.TextBackbone
	MaxLength int

	Projection *nn.Linear
	Norm       *nn.LayerNorm
	Dropout    nn.Dropout
}

// NewTextEncoder 创建标题编码器，投影层按 rng 初始化（加载检查点后被覆盖）。
func NewTextEncoder(tokenizer core.Tokenizer, backbone core.TextBackbone, rng *nn.Initializer) (*TextEncoder, error) {
	if tokenizer == nil || backbone == nil {
		return nil, core.NewConfigurationError(core.ModuleEncoder, "text encoder: tokenizer and backbone are required")
	}
	hidden := backbone.HiddenSize()
	if hidden <= 0 {
		return nil, core.NewConfigurationError(core.ModuleEncoder, "text encoder: backbone hidden size %d", hidden)
	}
	return &TextEncoder{
		Tokenizer:  tokenizer,
		Backbone:   backbone,
		MaxLength:  TitleMaxTokens,
		Projection: nn.NewLinear(hidden, TitleEmbeddingDim, rng),
		Norm:       nn.NewLayerNorm(TitleEmbeddingDim),
		Dropout:    nn.Dropout{P: titleDropout},
	}, nil
}

// OutputDim 输出维度
func (e *TextEncoder) OutputDim() int { return TitleEmbeddingDim }

// Encode 把标题编码为 256 维向量。
func (e *TextEncoder) Encode(ctx context.Context, title string) ([]float32, error) {
	ids, mask, err := e.Tokenizer.Tokenize(ctx, title, e.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("tokenize title: %w", err)
	}
	if len(ids) != len(mask) || len(ids) == 0 || len(ids) > e.MaxLength {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInference,
			fmt.Sprintf("tokenizer returned %d ids and %d mask entries (max %d)", len(ids), len(mask), e.MaxLength))
	}

	hidden, err := e.Backbone.Encode(ctx, ids, mask)
	if err != nil {
		return nil, fmt.Errorf("encode title: %w", err)
	}
	if len(hidden) != len(ids) {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInference,
			fmt.Sprintf("backbone returned %d hidden states for %d tokens", len(hidden), len(ids)))
	}
	if w := len(hidden[0]); w != e.Projection.In {
		return nil, core.NewConfigurationError(core.ModuleEncoder,
			"backbone hidden width %d does not match projection input %d", w, e.Projection.In)
	}

	pooled, err := nn.MaskedMeanPool(hidden, mask)
	if err != nil {
		return nil, err
	}
	return e.project(pooled)
}

func (e *TextEncoder) project(pooled []float32) ([]float32, error) {
	x, err := e.Projection.Forward(pooled)
	if err != nil {
		return nil, err
	}
	if x, err = e.Norm.Forward(x); err != nil {
		return nil, err
	}
	return e.Dropout.Forward(x), nil
}

// Parameters 投影层参数（骨干网络冻结且外部提供，不进入检查点）。
func (e *TextEncoder) Parameters(prefix string) []nn.Param {
	var ps []nn.Param
	ps = append(ps, e.Projection.Parameters(prefix+".projection.0")...)
	ps = append(ps, e.Norm.Parameters(prefix+".projection.1")...)
	return ps
}
