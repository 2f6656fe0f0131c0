package encoder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/nn"
)

// wordTokenizer 按空格切词，每个词的 id 为其长度，padding 为 0。
type wordTokenizer struct{}

func (wordTokenizer) Tokenize(_ context.Context, text string, maxLen int) ([]int64, []int64, error) {
	ids := make([]int64, maxLen)
	mask := make([]int64, maxLen)
	for i, w := range strings.Fields(text) {
		if i >= maxLen {
			break
		}
		ids[i] = int64(len(w))
		mask[i] = 1
	}
	return ids, mask, nil
}

// constBackbone 的隐藏状态由 token id 决定。
type constBackbone struct {
	hidden int
	err    error
}

func (b constBackbone) HiddenSize() int { return b.hidden }

func (b constBackbone) Encode(_ context.Context, ids, _ []int64) ([][]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([][]float32, len(ids))
	for i, id := range ids {
		row := make([]float32, b.hidden)
		for j := range row {
			row[j] = float32(id) * float32(j+1) / 10
		}
		out[i] = row
	}
	return out, nil
}

type fixedImageBackbone struct {
	width    int
	declared int
}

func (b fixedImageBackbone) OutputWidth() int { return b.declared }

func (b fixedImageBackbone) ExtractFeatures(_ context.Context, img core.ImageTensor) ([]float32, error) {
	out := make([]float32, b.width)
	for i := range out {
		out[i] = img.Data[i%len(img.Data)]
	}
	return out, nil
}

func TestTextEncoder_Encode(t *testing.T) {
	ctx := context.Background()
	enc, err := NewTextEncoder(wordTokenizer{}, constBackbone{hidden: 16}, nn.NewInitializer(1))
	require.NoError(t, err)

	a, err := enc.Encode(ctx, "how to cook rice")
	require.NoError(t, err)
	assert.Len(t, a, TitleEmbeddingDim)

	b, err := enc.Encode(ctx, "how to cook rice")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// 额外的 padding 不影响结果
	enc.MaxLength = 8
	c, err := enc.Encode(ctx, "how to cook rice")
	require.NoError(t, err)
	assert.InDeltaSlice(t, a, c, 1e-5)

	_, err = enc.Encode(ctx, "")
	require.NoError(t, err, "empty title pools to zeros")
}

func TestTextEncoder_Errors(t *testing.T) {
	_, err := NewTextEncoder(nil, constBackbone{hidden: 4}, nn.NewInitializer(1))
	assert.True(t, core.IsConfiguration(err))

	_, err = NewTextEncoder(wordTokenizer{}, constBackbone{hidden: 0}, nn.NewInitializer(1))
	assert.True(t, core.IsConfiguration(err))

	enc, err := NewTextEncoder(wordTokenizer{}, constBackbone{hidden: 8}, nn.NewInitializer(1))
	require.NoError(t, err)
	enc.Backbone = constBackbone{hidden: 12}
	_, err = enc.Encode(context.Background(), "title")
	assert.True(t, core.IsConfiguration(err))

	boom := errors.New("boom")
	enc.Backbone = constBackbone{hidden: 8, err: boom}
	_, err = enc.Encode(context.Background(), "title")
	assert.ErrorIs(t, err, boom)
}

func TestTemporalMetadataEncoder(t *testing.T) {
	enc := NewTemporalMetadataEncoder(nn.NewInitializer(2))

	out, err := enc.Encode(23, 6)
	require.NoError(t, err)
	assert.Len(t, out, TemporalEmbeddingDim)

	other, err := enc.Encode(0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, out, other)

	tests := []struct {
		name      string
		hour, day int
	}{
		{"hour too large", 24, 0},
		{"negative hour", -1, 0},
		{"day too large", 0, 7},
		{"negative day", 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Encode(tt.hour, tt.day)
			assert.True(t, core.IsIndexOutOfRange(err))
		})
	}
}

func TestNumericFeatureEncoder(t *testing.T) {
	enc := NewNumericFeatureEncoder(nn.NewInitializer(3))
	v := feature.NumericVector{0.5, 0.2, 0.7, 0.9, 0.01, 0.25}

	out, err := enc.Encode(v)
	require.NoError(t, err)
	require.Len(t, out, NumericEmbeddingDim)
	for _, x := range out {
		assert.GreaterOrEqual(t, x, float32(0), "relu output")
	}

	batch, err := enc.EncodeBatch([]feature.NumericVector{v, {}})
	require.NoError(t, err)
	assert.Equal(t, out, batch[0], "frozen statistics are per-row")

	enc.Mode = nn.BatchStatistics
	_, err = enc.Encode(v)
	assert.True(t, core.IsConfiguration(err))

	batch, err = enc.EncodeBatch([]feature.NumericVector{v, {}})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestImageEncoder(t *testing.T) {
	_, err := NewImageEncoder("vgg16", fixedImageBackbone{width: 512, declared: 512})
	assert.True(t, core.IsConfiguration(err))

	_, err = NewImageEncoder("resnet50", fixedImageBackbone{width: 512, declared: 512})
	assert.True(t, core.IsConfiguration(err))

	enc, err := NewImageEncoder("resnet18", fixedImageBackbone{width: 512, declared: 512})
	require.NoError(t, err)
	out, err := enc.Encode(context.Background(), core.NewImageTensor())
	require.NoError(t, err)
	assert.Len(t, out, 512)

	_, err = enc.Encode(context.Background(), core.ImageTensor{Data: make([]float32, 10)})
	assert.True(t, core.IsInference(err))

	// 骨干声明宽度正确但实际输出不一致
	enc.Backbone = fixedImageBackbone{width: 100, declared: 512}
	_, err = enc.Encode(context.Background(), core.NewImageTensor())
	assert.True(t, core.IsInference(err))

	assert.Equal(t, []string{"resnet18", "resnet50"}, SupportedVariants())
}

func TestChannelMetadataEncoder(t *testing.T) {
	_, err := NewChannelMetadataEncoder(0, 3, 0, nn.NewInitializer(4))
	assert.True(t, core.IsConfiguration(err))

	enc, err := NewChannelMetadataEncoder(10, 3, 0, nn.NewInitializer(4))
	require.NoError(t, err)
	assert.Equal(t, DefaultChannelEmbeddingDim, enc.OutputDim())

	out, err := enc.Encode(9, 2, [ChannelContinuousDim]float32{1, 2, 3, 4, 5, 1})
	require.NoError(t, err)
	assert.Len(t, out, DefaultChannelEmbeddingDim)

	_, err = enc.Encode(10, 0, [ChannelContinuousDim]float32{})
	assert.True(t, core.IsIndexOutOfRange(err))
	_, err = enc.Encode(0, 3, [ChannelContinuousDim]float32{})
	assert.True(t, core.IsIndexOutOfRange(err))
}

func TestParameters_Names(t *testing.T) {
	rng := nn.NewInitializer(5)
	temporal := NewTemporalMetadataEncoder(rng)
	names := map[string][]int{}
	for _, p := range temporal.Parameters("temporal") {
		names[p.Name] = p.Shape
		assert.Equal(t, p.Numel(), len(p.Data), p.Name)
	}
	assert.Equal(t, []int{24, 8}, names["temporal.hour_embed.weight"])
	assert.Equal(t, []int{7, 4}, names["temporal.dow_embed.weight"])
	assert.Equal(t, []int{64, 12}, names["temporal.mlp.0.weight"])
	assert.Equal(t, []int{32, 64}, names["temporal.mlp.4.weight"])

	numeric := NewNumericFeatureEncoder(rng)
	names = map[string][]int{}
	for _, p := range numeric.Parameters("numeric") {
		names[p.Name] = p.Shape
	}
	assert.Equal(t, []int{6}, names["numeric.0.running_var"])
	assert.Equal(t, []int{64, 6}, names["numeric.1.weight"])
	assert.Equal(t, []int{64, 64}, names["numeric.3.weight"])
}
