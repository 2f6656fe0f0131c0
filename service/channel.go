package service

import (
	"context"

	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/feast"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pkg/logger"
)

// ChannelEmbedder 按频道 ID 从 Feast 读取频道特征并编码为频道嵌入。
// 结果不进入融合头。
type ChannelEmbedder struct {
	source  *feast.ChannelSource
	encoder *encoder.ChannelMetadataEncoder
	loaded  bool
}

func NewChannelEmbedder(source *feast.ChannelSource, enc *encoder.ChannelMetadataEncoder) *ChannelEmbedder {
	return &ChannelEmbedder{source: source, encoder: enc}
}

// LoadCheckpoint 从检查点的 channel 组件加载编码器参数。
// 检查点不含该组件时返回错误，编码器保持原参数。
func (e *ChannelEmbedder) LoadCheckpoint(ck *model.Checkpoint) error {
	if err := ck.Apply(e.encoder.Parameters(model.ComponentChannel)); err != nil {
		return err
	}
	e.loaded = true
	return nil
}

// Loaded 是否已加载训练好的参数
func (e *ChannelEmbedder) Loaded() bool { return e.loaded }

// OutputDim 嵌入维度
func (e *ChannelEmbedder) OutputDim() int { return e.encoder.OutputDim() }

// Embed 返回频道嵌入。niche / language 超出词表返回 INDEX_OUT_OF_RANGE。
func (e *ChannelEmbedder) Embed(ctx context.Context, channelID string) ([]float32, error) {
	f, err := e.source.Fetch(ctx, channelID)
	if err != nil {
		return nil, err
	}
	out, err := guardValue(func() ([]float32, error) {
		return e.encoder.Encode(f.NicheID, f.LanguageID, f.Continuous)
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("channel", channelID).Msg("channel embedding failed")
		return nil, err
	}
	return out, nil
}

func guardValue[T any](fn func() (T, error)) (T, error) {
	var out T
	err := guard(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
