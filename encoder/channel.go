package encoder

import (
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/nn"
)

// ChannelContinuousDim 频道连续特征个数：
// log_subs, avg_views_30d, avg_ctr_30d, uploads_per_week, channel_age_days, is_verified
const ChannelContinuousDim = 6

const (
	nicheEmbedDim    = 8
	languageEmbedDim = 4
	channelHidden    = 64
	channelDropout   = 0.2

	// DefaultChannelEmbeddingDim 默认频道嵌入维度
	DefaultChannelEmbeddingDim = 32
)

// ChannelMetadataEncoder 频道元数据编码器：
// niche(N×8) ⊕ language(L×4) ⊕ 6 个连续特征 → Linear(18,64) → ReLU → LayerNorm → Dropout → Linear(64,D)。
//
// 该编码器可以单独调用（见 service.ChannelEmbedder），但不参与融合头的输入。
type ChannelMetadataEncoder struct {
	NicheEmbed    *nn.Embedding
	LanguageEmbed *nn.Embedding
	FC1           *nn.Linear
	Norm          *nn.LayerNorm
	Dropout       nn.Dropout
	FC2           *nn.Linear
}

// NewChannelMetadataEncoder 创建频道元数据编码器，embedDim<=0 时使用默认值 32。
func NewChannelMetadataEncoder(numNiches, numLanguages, embedDim int, rng *nn.Initializer) (*ChannelMetadataEncoder, error) {
	if numNiches <= 0 || numLanguages <= 0 {
		return nil, core.NewConfigurationError(core.ModuleEncoder,
			"channel encoder: need positive niche/language vocabulary, got %d/%d", numNiches, numLanguages)
	}
	if embedDim <= 0 {
		embedDim = DefaultChannelEmbeddingDim
	}
	return &ChannelMetadataEncoder{
		NicheEmbed:    nn.NewEmbedding(numNiches, nicheEmbedDim, rng),
		LanguageEmbed: nn.NewEmbedding(numLanguages, languageEmbedDim, rng),
		FC1:           nn.NewLinear(nicheEmbedDim+languageEmbedDim+ChannelContinuousDim, channelHidden, rng),
		Norm:          nn.NewLayerNorm(channelHidden),
		Dropout:       nn.Dropout{P: channelDropout},
		FC2:           nn.NewLinear(channelHidden, embedDim, rng),
	}, nil
}

func (e *ChannelMetadataEncoder) OutputDim() int { return e.FC2.Out }

// Encode 编码频道元数据。niche / language 越界返回 INDEX_OUT_OF_RANGE。
func (e *ChannelMetadataEncoder) Encode(nicheID, languageID int, continuous [ChannelContinuousDim]float32) ([]float32, error) {
	n, err := e.NicheEmbed.Lookup(nicheID)
	if err != nil {
		return nil, err
	}
	l, err := e.LanguageEmbed.Lookup(languageID)
	if err != nil {
		return nil, err
	}
	x, err := e.FC1.Forward(nn.Concat(n, l, continuous[:]))
	if err != nil {
		return nil, err
	}
	if x, err = e.Norm.Forward(nn.ReLU(x)); err != nil {
		return nil, err
	}
	return e.FC2.Forward(e.Dropout.Forward(x))
}

func (e *ChannelMetadataEncoder) Parameters(prefix string) []nn.Param {
	var ps []nn.Param
	ps = append(ps, e.NicheEmbed.Parameters(prefix+".niche_embed")...)
	ps = append(ps, e.LanguageEmbed.Parameters(prefix+".language_embed")...)
	ps = append(ps, e.FC1.Parameters(prefix+".mlp.0")...)
	ps = append(ps, e.Norm.Parameters(prefix+".mlp.2")...)
	ps = append(ps, e.FC2.Parameters(prefix+".mlp.4")...)
	return ps
}
