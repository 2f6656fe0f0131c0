package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// MaskMinCount 是掩码平均池化中有效 token 数的下限，避免全 padding 时除零。
const MaskMinCount = 1e-6

// MaskedMeanPool 掩码平均池化：sum(h_t * mask_t) / max(sum(mask_t), 1e-6)。
// padding 位置（mask=0）对结果没有任何贡献。
func MaskedMeanPool(hidden [][]float32, mask []int64) ([]float32, error) {
	if len(hidden) != len(mask) {
		return nil, fmt.Errorf("masked mean pool: %d hidden states but %d mask entries", len(hidden), len(mask))
	}
	if len(hidden) == 0 {
		return nil, fmt.Errorf("masked mean pool: empty sequence")
	}
	dim := len(hidden[0])
	summed := make([]float64, dim)
	var count float64
	for t, h := range hidden {
		if len(h) != dim {
			return nil, fmt.Errorf("masked mean pool: token %d width %d, want %d", t, len(h), dim)
		}
		m := float64(mask[t])
		if m == 0 {
			continue
		}
		count += m
		for i, v := range h {
			summed[i] += float64(v) * m
		}
	}
	count = math.Max(count, MaskMinCount)
	out := make([]float32, dim)
	for i, v := range summed {
		out[i] = float32(v / count)
	}
	return out, nil
}

// Concat 按顺序拼接多个向量。
func Concat(parts ...[]float32) []float32 {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]float32, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Argmax 返回最大值下标；并列时取第一个。空输入返回 -1。
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// Initializer 是确定性的参数初始化器（固定种子的 PCG）。
// 未加载检查点时的降级模型由它初始化，相同种子得到相同权重。
type Initializer struct {
	rng *rand.Rand
}

// NewInitializer 创建初始化器。
func NewInitializer(seed uint64) *Initializer {
	return &Initializer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Uniform 以 U(-bound, bound) 填充 dst。
func (in *Initializer) Uniform(dst []float32, bound float64) {
	for i := range dst {
		dst[i] = float32((in.rng.Float64()*2 - 1) * bound)
	}
}

// Normal 以 N(0, std²) 填充 dst。
func (in *Initializer) Normal(dst []float32, std float64) {
	for i := range dst {
		dst[i] = float32(in.rng.NormFloat64() * std)
	}
}
