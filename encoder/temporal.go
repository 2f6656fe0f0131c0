package encoder

import (
	"github.com/rushteam/ctrkit/nn"
)

const (
	// TemporalEmbeddingDim 发布时间嵌入维度
	TemporalEmbeddingDim = 32

	HoursPerDay = 24
	DaysPerWeek = 7

	hourEmbedDim    = 8
	dayEmbedDim     = 4
	temporalHidden  = 64
	temporalDropout = 0.2
)

// TemporalMetadataEncoder 发布时间编码器：
// hour(24×8) ⊕ day(7×4) → Linear(12,64) → ReLU → LayerNorm → Dropout → Linear(64,32)。
//
// 小时或星期越界返回 INDEX_OUT_OF_RANGE：正常请求在校验阶段就被拒绝，
// 走到这里说明调用方绕过了校验。
type TemporalMetadataEncoder struct {
	HourEmbed *nn.Embedding
	DayEmbed  *nn.Embedding
	FC1       *nn.Linear
	Norm      *nn.LayerNorm
	Dropout   nn.Dropout
	FC2       *nn.Linear
}

// NewTemporalMetadataEncoder 创建发布时间编码器。
func NewTemporalMetadataEncoder(rng *nn.Initializer) *TemporalMetadataEncoder {
	return &TemporalMetadataEncoder{
		HourEmbed: nn.NewEmbedding(HoursPerDay, hourEmbedDim, rng),
		DayEmbed:  nn.NewEmbedding(DaysPerWeek, dayEmbedDim, rng),
		FC1:       nn.NewLinear(hourEmbedDim+dayEmbedDim, temporalHidden, rng),
		Norm:      nn.NewLayerNorm(temporalHidden),
		Dropout:   nn.Dropout{P: temporalDropout},
		FC2:       nn.NewLinear(temporalHidden, TemporalEmbeddingDim, rng),
	}
}

func (e *TemporalMetadataEncoder) OutputDim() int { return TemporalEmbeddingDim }

// Encode 编码发布小时（0–23）与星期（0–6）。
func (e *TemporalMetadataEncoder) Encode(hour, day int) ([]float32, error) {
	h, err := e.HourEmbed.Lookup(hour)
	if err != nil {
		return nil, err
	}
	d, err := e.DayEmbed.Lookup(day)
	if err != nil {
		return nil, err
	}
	x, err := e.FC1.Forward(nn.Concat(h, d))
	if err != nil {
		return nil, err
	}
	if x, err = e.Norm.Forward(nn.ReLU(x)); err != nil {
		return nil, err
	}
	return e.FC2.Forward(e.Dropout.Forward(x))
}

func (e *TemporalMetadataEncoder) Parameters(prefix string) []nn.Param {
	var ps []nn.Param
	ps = append(ps, e.HourEmbed.Parameters(prefix+".hour_embed")...)
	ps = append(ps, e.DayEmbed.Parameters(prefix+".dow_embed")...)
	ps = append(ps, e.FC1.Parameters(prefix+".mlp.0")...)
	ps = append(ps, e.Norm.Parameters(prefix+".mlp.2")...)
	ps = append(ps, e.FC2.Parameters(prefix+".mlp.4")...)
	return ps
}
