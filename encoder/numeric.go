package encoder

import (
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/nn"
)

// NumericEmbeddingDim 数值特征嵌入维度
const NumericEmbeddingDim = 64

// NumericFeatureEncoder 数值特征编码器：
// BatchNorm1d(6) → Linear(6,64) → ReLU → Linear(64,64) → ReLU。
//
// Mode 显式指定 BatchNorm 的统计量来源，默认 FrozenStatistics（训练期记录的
// running mean / var）。单样本推理只能使用冻结统计量，一个样本的批方差没有意义，
// 因此 Encode 在 BatchStatistics 模式下会返回 CONFIGURATION 错误。
type NumericFeatureEncoder struct {
	Mode nn.StatsMode
	Norm *nn.BatchNorm1d
	FC1  *nn.Linear
	FC2  *nn.Linear
}

// NewNumericFeatureEncoder 创建数值特征编码器。
func NewNumericFeatureEncoder(rng *nn.Initializer) *NumericFeatureEncoder {
	return &NumericFeatureEncoder{
		Mode: nn.FrozenStatistics,
		Norm: nn.NewBatchNorm1d(feature.NumNumericFeatures),
		FC1:  nn.NewLinear(feature.NumNumericFeatures, NumericEmbeddingDim, rng),
		FC2:  nn.NewLinear(NumericEmbeddingDim, NumericEmbeddingDim, rng),
	}
}

func (e *NumericFeatureEncoder) OutputDim() int { return NumericEmbeddingDim }

// Encode 编码单个样本。
func (e *NumericFeatureEncoder) Encode(v feature.NumericVector) ([]float32, error) {
	out, err := e.EncodeBatch([]feature.NumericVector{v})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EncodeBatch 编码一个批次；BatchStatistics 模式要求至少两行。
func (e *NumericFeatureEncoder) EncodeBatch(vs []feature.NumericVector) ([][]float32, error) {
	rows := make([][]float32, len(vs))
	for i, v := range vs {
		rows[i] = v.Slice()
	}
	normed, err := e.Norm.ForwardBatch(rows, e.Mode)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(normed))
	for i, x := range normed {
		h, err := e.FC1.Forward(x)
		if err != nil {
			return nil, err
		}
		h, err = e.FC2.Forward(nn.ReLU(h))
		if err != nil {
			return nil, err
		}
		out[i] = nn.ReLU(h)
	}
	return out, nil
}

func (e *NumericFeatureEncoder) Parameters(prefix string) []nn.Param {
	var ps []nn.Param
	ps = append(ps, e.Norm.Parameters(prefix+".0")...)
	ps = append(ps, e.FC1.Parameters(prefix+".1")...)
	ps = append(ps, e.FC2.Parameters(prefix+".3")...)
	return ps
}
