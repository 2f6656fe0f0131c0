package model

import (
	"fmt"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/nn"
)

// DefaultHiddenWidths 融合头隐藏层宽度
var DefaultHiddenWidths = []int{1024, 256, 256}

// DefaultNumClasses CTR 档位数
const DefaultNumClasses = 8

var defaultHeadDropouts = []float64{0.3, 0.1, 0.1}

// headBlock 是 Linear → BatchNorm1d → Dropout → ReLU。
type headBlock struct {
	Linear  *nn.Linear
	Norm    *nn.BatchNorm1d
	Dropout nn.Dropout
}

// FusionHead 融合分类头。
//
// 输入是四个模态嵌入按固定顺序 [image, title, temporal, numeric] 拼接后的向量，
// 输出 num_classes 个 logits（未做 softmax）。
// BatchNorm 使用冻结统计量，单样本推理的结果与批次无关。
type FusionHead struct {
	InputDim   int
	NumClasses int

	blocks []headBlock
	output *nn.Linear
}

// NewFusionHead 创建融合头。hidden 为空时使用 DefaultHiddenWidths，numClasses<=0 时使用 8。
func NewFusionHead(inputDim int, hidden []int, numClasses int, rng *nn.Initializer) (*FusionHead, error) {
	if inputDim <= 0 {
		return nil, core.NewConfigurationError(core.ModuleModel, "fusion head: input width %d", inputDim)
	}
	if len(hidden) == 0 {
		hidden = DefaultHiddenWidths
	}
	if numClasses <= 0 {
		numClasses = DefaultNumClasses
	}

	h := &FusionHead{InputDim: inputDim, NumClasses: numClasses}
	in := inputDim
	for i, width := range hidden {
		if width <= 0 {
			return nil, core.NewConfigurationError(core.ModuleModel, "fusion head: hidden width %d at layer %d", width, i)
		}
		p := 0.1
		if i < len(defaultHeadDropouts) {
			p = defaultHeadDropouts[i]
		}
		h.blocks = append(h.blocks, headBlock{
			Linear:  nn.NewLinear(in, width, rng),
			Norm:    nn.NewBatchNorm1d(width),
			Dropout: nn.Dropout{P: p},
		})
		in = width
	}
	h.output = nn.NewLinear(in, numClasses, rng)
	return h, nil
}

// HiddenWidths 返回各隐藏层宽度。
func (h *FusionHead) HiddenWidths() []int {
	out := make([]int, len(h.blocks))
	for i, b := range h.blocks {
		out[i] = b.Linear.Out
	}
	return out
}

// Forward 返回 logits。输入宽度与声明不一致时返回 CONFIGURATION，不做截断或补零。
func (h *FusionHead) Forward(fused []float32) ([]float32, error) {
	if len(fused) != h.InputDim {
		return nil, core.NewConfigurationError(core.ModuleModel,
			"fused width %d does not match head input %d", len(fused), h.InputDim)
	}
	x := fused
	for i, b := range h.blocks {
		y, err := b.Linear.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("head block %d: %w", i, err)
		}
		if y, err = b.Norm.Forward(y); err != nil {
			return nil, fmt.Errorf("head block %d: %w", i, err)
		}
		x = nn.ReLU(b.Dropout.Forward(y))
	}
	return h.output.Forward(x)
}

// Parameters 参数名按 Sequential 下标编号：每个 block 占 4 个位置
// （Linear, BatchNorm, Dropout, ReLU），输出层紧随其后。
func (h *FusionHead) Parameters(prefix string) []nn.Param {
	var ps []nn.Param
	for i, b := range h.blocks {
		ps = append(ps, b.Linear.Parameters(fmt.Sprintf("%s.%d", prefix, 4*i))...)
		ps = append(ps, b.Norm.Parameters(fmt.Sprintf("%s.%d", prefix, 4*i+1))...)
	}
	ps = append(ps, h.output.Parameters(fmt.Sprintf("%s.%d", prefix, 4*len(h.blocks)))...)
	return ps
}

// inputWeightName 第一层权重的参数名，其第二维即融合宽度。
func (h *FusionHead) inputWeightName(prefix string) string {
	return prefix + ".0.weight"
}
