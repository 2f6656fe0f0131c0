// Package nn 提供推理所需的最小神经网络算子（float32，单样本前向）。
//
// 所有算子只在推理模式下工作：
//   - 参数在构造或加载检查点后只读，前向计算不修改任何参数
//   - Dropout 恒等映射
//   - BatchNorm 的统计量模式（冻结 / 批统计）由 StatsMode 显式指定，不依赖隐式的全局状态
//
// 因为前向计算只读参数，同一组参数可以被多个 goroutine 并发使用。
package nn

import (
	"fmt"
	"math"

	"github.com/rushteam/ctrkit/core"
)

// Param 是一个命名参数张量，用于检查点的读写。
// Data 指向模块内部的存储，加载时原地覆盖。
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// Numel 返回形状对应的元素个数。
func (p Param) Numel() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// Module 由持有可训练参数的算子实现。
type Module interface {
	Parameters(prefix string) []Param
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Linear 全连接层：y = W·x + b，W 按行优先存储，形状 [Out][In]。
type Linear struct {
	In     int
	Out    int
	Weight []float32
	Bias   []float32
}

// NewLinear 创建全连接层，使用均匀分布初始化，bound = 1/sqrt(in)。
func NewLinear(in, out int, rng *Initializer) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: make([]float32, in*out),
		Bias:   make([]float32, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	rng.Uniform(l.Weight, bound)
	rng.Uniform(l.Bias, bound)
	return l
}

// Forward 前向计算。
func (l *Linear) Forward(x []float32) ([]float32, error) {
	if len(x) != l.In {
		return nil, fmt.Errorf("linear: input width %d, want %d", len(x), l.In)
	}
	out := make([]float32, l.Out)
	for j := 0; j < l.Out; j++ {
		row := l.Weight[j*l.In : (j+1)*l.In]
		sum := l.Bias[j]
		for k, v := range x {
			sum += row[k] * v
		}
		out[j] = sum
	}
	return out, nil
}

func (l *Linear) Parameters(prefix string) []Param {
	return []Param{
		{Name: join(prefix, "weight"), Shape: []int{l.Out, l.In}, Data: l.Weight},
		{Name: join(prefix, "bias"), Shape: []int{l.Out}, Data: l.Bias},
	}
}

// LayerNorm 对单个向量做层归一化。
type LayerNorm struct {
	Dim   int
	Gamma []float32
	Beta  []float32
	Eps   float64
}

// NewLayerNorm 创建层归一化，gamma=1，beta=0，eps=1e-5。
func NewLayerNorm(dim int) *LayerNorm {
	ln := &LayerNorm{
		Dim:   dim,
		Gamma: make([]float32, dim),
		Beta:  make([]float32, dim),
		Eps:   1e-5,
	}
	for i := range ln.Gamma {
		ln.Gamma[i] = 1
	}
	return ln
}

func (ln *LayerNorm) Forward(x []float32) ([]float32, error) {
	if len(x) != ln.Dim {
		return nil, fmt.Errorf("layernorm: input width %d, want %d", len(x), ln.Dim)
	}
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))
	var variance float64
	for _, v := range x {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(x))
	inv := 1 / math.Sqrt(variance+ln.Eps)

	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32((float64(v)-mean)*inv)*ln.Gamma[i] + ln.Beta[i]
	}
	return out, nil
}

func (ln *LayerNorm) Parameters(prefix string) []Param {
	return []Param{
		{Name: join(prefix, "weight"), Shape: []int{ln.Dim}, Data: ln.Gamma},
		{Name: join(prefix, "bias"), Shape: []int{ln.Dim}, Data: ln.Beta},
	}
}

// StatsMode 指定 BatchNorm 使用哪种统计量。
type StatsMode int

const (
	// FrozenStatistics 使用训练期间记录的 running mean / running var。
	// 单样本推理必须使用此模式：一个样本的批方差退化为 0。
	FrozenStatistics StatsMode = iota

	// BatchStatistics 使用当前批次的均值与（有偏）方差，要求批大小 >= 2。
	BatchStatistics
)

func (m StatsMode) String() string {
	switch m {
	case FrozenStatistics:
		return "frozen"
	case BatchStatistics:
		return "batch"
	default:
		return fmt.Sprintf("StatsMode(%d)", int(m))
	}
}

// BatchNorm1d 一维批归一化。
type BatchNorm1d struct {
	Dim         int
	Gamma       []float32
	Beta        []float32
	RunningMean []float32
	RunningVar  []float32
	Eps         float64
}

// NewBatchNorm1d 创建批归一化：gamma=1，beta=0，running_mean=0，running_var=1。
func NewBatchNorm1d(dim int) *BatchNorm1d {
	bn := &BatchNorm1d{
		Dim:         dim,
		Gamma:       make([]float32, dim),
		Beta:        make([]float32, dim),
		RunningMean: make([]float32, dim),
		RunningVar:  make([]float32, dim),
		Eps:         1e-5,
	}
	for i := 0; i < dim; i++ {
		bn.Gamma[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

// Forward 使用冻结统计量归一化单个样本。
func (bn *BatchNorm1d) Forward(x []float32) ([]float32, error) {
	if len(x) != bn.Dim {
		return nil, fmt.Errorf("batchnorm: input width %d, want %d", len(x), bn.Dim)
	}
	return bn.normalize(x, bn.RunningMean, bn.RunningVar), nil
}

// ForwardBatch 按 mode 归一化一个批次。
// BatchStatistics 模式下批统计量只用于本次计算，不会回写 running 统计量。
func (bn *BatchNorm1d) ForwardBatch(xs [][]float32, mode StatsMode) ([][]float32, error) {
	for i, x := range xs {
		if len(x) != bn.Dim {
			return nil, fmt.Errorf("batchnorm: row %d width %d, want %d", i, len(x), bn.Dim)
		}
	}
	mean, variance := bn.RunningMean, bn.RunningVar
	if mode == BatchStatistics {
		if len(xs) < 2 {
			return nil, core.NewConfigurationError(core.ModuleEncoder,
				"batchnorm: batch statistics need at least 2 rows, got %d", len(xs))
		}
		mean, variance = batchMoments(xs, bn.Dim)
	}
	out := make([][]float32, len(xs))
	for i, x := range xs {
		out[i] = bn.normalize(x, mean, variance)
	}
	return out, nil
}

func (bn *BatchNorm1d) normalize(x, mean, variance []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		inv := 1 / math.Sqrt(float64(variance[i])+bn.Eps)
		out[i] = float32(float64(v-mean[i])*inv)*bn.Gamma[i] + bn.Beta[i]
	}
	return out
}

func batchMoments(xs [][]float32, dim int) ([]float32, []float32) {
	mean := make([]float32, dim)
	variance := make([]float32, dim)
	n := float64(len(xs))
	for d := 0; d < dim; d++ {
		var m float64
		for _, x := range xs {
			m += float64(x[d])
		}
		m /= n
		var v float64
		for _, x := range xs {
			diff := float64(x[d]) - m
			v += diff * diff
		}
		mean[d] = float32(m)
		variance[d] = float32(v / n)
	}
	return mean, variance
}

func (bn *BatchNorm1d) Parameters(prefix string) []Param {
	return []Param{
		{Name: join(prefix, "weight"), Shape: []int{bn.Dim}, Data: bn.Gamma},
		{Name: join(prefix, "bias"), Shape: []int{bn.Dim}, Data: bn.Beta},
		{Name: join(prefix, "running_mean"), Shape: []int{bn.Dim}, Data: bn.RunningMean},
		{Name: join(prefix, "running_var"), Shape: []int{bn.Dim}, Data: bn.RunningVar},
	}
}

// Embedding 嵌入表，形状 [Num][Dim]。
type Embedding struct {
	Num    int
	Dim    int
	Weight []float32
}

// NewEmbedding 创建嵌入表，使用标准正态初始化。
func NewEmbedding(num, dim int, rng *Initializer) *Embedding {
	e := &Embedding{Num: num, Dim: dim, Weight: make([]float32, num*dim)}
	rng.Normal(e.Weight, 1)
	return e
}

// Lookup 返回第 idx 行的拷贝。越界返回 INDEX_OUT_OF_RANGE，不做取模回绕。
func (e *Embedding) Lookup(idx int) ([]float32, error) {
	if idx < 0 || idx >= e.Num {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeIndexOutOfRange,
			fmt.Sprintf("embedding: index %d out of range [0,%d)", idx, e.Num))
	}
	out := make([]float32, e.Dim)
	copy(out, e.Weight[idx*e.Dim:(idx+1)*e.Dim])
	return out, nil
}

func (e *Embedding) Parameters(prefix string) []Param {
	return []Param{{Name: join(prefix, "weight"), Shape: []int{e.Num, e.Dim}, Data: e.Weight}}
}

// Dropout 在推理时是恒等映射；P 仅记录训练期的丢弃概率。
type Dropout struct {
	P float64
}

func (d Dropout) Forward(x []float32) []float32 { return x }

// ReLU 原地执行 max(0, x) 并返回 x。
func ReLU(x []float32) []float32 {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
	return x
}
