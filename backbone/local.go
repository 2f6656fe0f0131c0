// Package backbone 提供 core.Tokenizer / core.TextBackbone / core.ImageBackbone 的实现。
//
//   - 本地确定性实现：不依赖外部服务，用于开发、测试以及离线回放
//   - RemoteRegistry：通过 HTTP 调用模型服务（TorchServe 风格），带熔断
package backbone

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/nn"
)

const (
	// PadID / ClsID 保留的 token id
	PadID = 0
	ClsID = 1

	// DefaultVocabSize 哈希分词器默认词表大小
	DefaultVocabSize = 30522

	// DefaultHiddenSize 默认隐藏层维度（与 DeBERTa-v3-base 一致）
	DefaultHiddenSize = 768
)

// HashTokenizer 哈希分词器：小写化后按非字母数字切词，
// 每个词映射为 xxhash(word) % (vocab-2) + 2，序列首位为 [CLS]。
type HashTokenizer struct {
	VocabSize int
}

func NewHashTokenizer(vocabSize int) *HashTokenizer {
	if vocabSize <= 2 {
		vocabSize = DefaultVocabSize
	}
	return &HashTokenizer{VocabSize: vocabSize}
}

// Tokenize 截断或补齐到 maxLen。
func (t *HashTokenizer) Tokenize(_ context.Context, text string, maxLen int) ([]int64, []int64, error) {
	if maxLen <= 0 {
		return nil, nil, core.NewConfigurationError(core.ModuleBackbone, "tokenize: maxLen %d", maxLen)
	}
	ids := make([]int64, maxLen)
	mask := make([]int64, maxLen)
	ids[0], mask[0] = ClsID, 1

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		pos := i + 1
		if pos >= maxLen {
			break
		}
		ids[pos] = int64(xxhash.Sum64String(w)%uint64(t.VocabSize-2)) + 2
		mask[pos] = 1
	}
	return ids, mask, nil
}

// EmbeddingTransformer 是预训练 Transformer 的确定性替身：
// 隐藏状态 = 词嵌入 + 正弦位置编码，再经 LayerNorm。
// 参数在构造时由种子生成，之后只读。
type EmbeddingTransformer struct {
	table *nn.Embedding
	norm  *nn.LayerNorm
}

func NewEmbeddingTransformer(vocabSize, hidden int, seed uint64) *EmbeddingTransformer {
	if vocabSize <= 2 {
		vocabSize = DefaultVocabSize
	}
	if hidden <= 0 {
		hidden = DefaultHiddenSize
	}
	return &EmbeddingTransformer{
		table: nn.NewEmbedding(vocabSize, hidden, nn.NewInitializer(seed)),
		norm:  nn.NewLayerNorm(hidden),
	}
}

func (b *EmbeddingTransformer) HiddenSize() int { return b.table.Dim }

func (b *EmbeddingTransformer) Encode(_ context.Context, ids, mask []int64) ([][]float32, error) {
	if len(ids) != len(mask) {
		return nil, core.NewConfigurationError(core.ModuleBackbone, "encode: %d ids, %d mask", len(ids), len(mask))
	}
	dim := b.table.Dim
	out := make([][]float32, len(ids))
	for pos, id := range ids {
		row, err := b.table.Lookup(int(id))
		if err != nil {
			return nil, err
		}
		for i := range row {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(dim))
			if i%2 == 0 {
				row[i] += float32(math.Sin(angle))
			} else {
				row[i] += float32(math.Cos(angle))
			}
		}
		if out[pos], err = b.norm.Forward(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// gridCells 每个方向的网格数
const gridCells = 4

// GridPoolExtractor 图像骨干网络的确定性替身：
// 对 4×4 网格按通道求均值与最大值（96 维），经固定随机投影与 ReLU 得到 Width 维特征。
type GridPoolExtractor struct {
	proj *nn.Linear
}

// NewGridPoolExtractor 创建网格池化提取器，width 应与所选 variant 一致。
func NewGridPoolExtractor(width int, seed uint64) *GridPoolExtractor {
	return &GridPoolExtractor{proj: nn.NewLinear(2*core.ImageChannels*gridCells*gridCells, width, nn.NewInitializer(seed))}
}

func (g *GridPoolExtractor) OutputWidth() int { return g.proj.Out }

func (g *GridPoolExtractor) ExtractFeatures(_ context.Context, img core.ImageTensor) ([]float32, error) {
	if len(img.Data) != core.ImageChannels*core.ImageSize*core.ImageSize {
		return nil, core.NewConfigurationError(core.ModuleBackbone, "extract: image tensor has %d values", len(img.Data))
	}
	const cell = core.ImageSize / gridCells
	pooled := make([]float32, 0, g.proj.In)
	for c := 0; c < core.ImageChannels; c++ {
		for gy := 0; gy < gridCells; gy++ {
			for gx := 0; gx < gridCells; gx++ {
				var sum float64
				var peak float32
				for y := gy * cell; y < (gy+1)*cell; y++ {
					for x := gx * cell; x < (gx+1)*cell; x++ {
						v := img.At(c, y, x)
						sum += float64(v)
						peak = max(peak, v)
					}
				}
				pooled = append(pooled, float32(sum/(cell*cell)), peak)
			}
		}
	}
	out, err := g.proj.Forward(pooled)
	if err != nil {
		return nil, err
	}
	return nn.ReLU(out), nil
}

var (
	_ core.Tokenizer     = (*HashTokenizer)(nil)
	_ core.TextBackbone  = (*EmbeddingTransformer)(nil)
	_ core.ImageBackbone = (*GridPoolExtractor)(nil)
)
