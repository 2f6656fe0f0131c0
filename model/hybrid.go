package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/nn"
	"github.com/rushteam/ctrkit/pkg/metrics"
)

// 检查点中的组件名（参数 key 为 "<component>.<param>"）。
const (
	ComponentText     = "text"
	ComponentTemporal = "temporal"
	ComponentNumeric  = "numeric"
	ComponentHead     = "head"

	// ComponentChannel 频道元数据编码器，可选，不参与融合
	ComponentChannel = "channel"
)

// ErrFusedWidthMismatch 检查点的融合头输入宽度与当前模型的融合表示宽度不一致。
// 它总是包装在 CONFIGURATION 错误中，启动期必须终止。
var ErrFusedWidthMismatch = errors.New("fused width mismatch")

// Config 模型结构配置。
type Config struct {
	// ImageVariant 图像骨干网络（resnet18 / resnet50）
	ImageVariant string

	// HiddenWidths 融合头隐藏层宽度，默认 [1024, 256, 256]
	HiddenWidths []int

	// NumClasses CTR 档位数，默认 8
	NumClasses int

	// Seed 未加载检查点时的初始化种子
	Seed uint64
}

// Backbones 外部提供的冻结骨干网络。
type Backbones struct {
	Tokenizer core.Tokenizer
	Text      core.TextBackbone
	Image     core.ImageBackbone
}

// Embeddings 四个模态的嵌入，顺序即拼接顺序。
type Embeddings struct {
	Image    []float32
	Title    []float32
	Temporal []float32
	Numeric  []float32
}

// Fused 按 [image, title, temporal, numeric] 拼接。
func (e *Embeddings) Fused() []float32 {
	return nn.Concat(e.Image, e.Title, e.Temporal, e.Numeric)
}

// HybridModel 多模态融合模型。
//
// 构造后即可推理；未加载检查点时处于降级状态（预训练骨干 + 随机初始化的
// 投影/数值/融合层），Degraded() 返回 true。
// 前向计算只读参数，可并发调用；LoadCheckpoint 与前向计算互斥。
type HybridModel struct {
	Image    *encoder.ImageEncoder
	Text     *encoder.TextEncoder
	Temporal *encoder.TemporalMetadataEncoder
	Numeric  *encoder.NumericFeatureEncoder
	Head     *FusionHead

	mu      sync.RWMutex
	version string
	loaded  bool
}

// New 创建模型并检查各模态宽度与融合头输入一致。
func New(cfg Config, b Backbones) (*HybridModel, error) {
	variant := cfg.ImageVariant
	if variant == "" {
		variant = encoder.DefaultVariant
	}
	rng := nn.NewInitializer(cfg.Seed)

	img, err := encoder.NewImageEncoder(variant, b.Image)
	if err != nil {
		return nil, err
	}
	text, err := encoder.NewTextEncoder(b.Tokenizer, b.Text, rng)
	if err != nil {
		return nil, err
	}
	temporal := encoder.NewTemporalMetadataEncoder(rng)
	numeric := encoder.NewNumericFeatureEncoder(rng)

	fused := img.OutputDim() + text.OutputDim() + temporal.OutputDim() + numeric.OutputDim()
	head, err := NewFusionHead(fused, cfg.HiddenWidths, cfg.NumClasses, rng)
	if err != nil {
		return nil, err
	}

	m := &HybridModel{Image: img, Text: text, Temporal: temporal, Numeric: numeric, Head: head}
	metrics.ModelDegraded.Set(1)
	return m, nil
}

// NumClasses 输出类别数
func (m *HybridModel) NumClasses() int { return m.Head.NumClasses }

// FusedDim 融合向量宽度
func (m *HybridModel) FusedDim() int { return m.Head.InputDim }

// Degraded 是否处于降级状态（未加载检查点）。
func (m *HybridModel) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.loaded
}

// Version 已加载检查点的版本，降级时为空。
func (m *HybridModel) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Parameters 检查点覆盖的全部参数（图像骨干网络除外）。
func (m *HybridModel) Parameters() []nn.Param {
	var ps []nn.Param
	ps = append(ps, m.Text.Parameters(ComponentText)...)
	ps = append(ps, m.Temporal.Parameters(ComponentTemporal)...)
	ps = append(ps, m.Numeric.Parameters(ComponentNumeric)...)
	ps = append(ps, m.Head.Parameters(ComponentHead)...)
	return ps
}

// Snapshot 导出当前参数为检查点。
func (m *HybridModel) Snapshot(version string) *Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FromParameters(version, m.Parameters())
}

// LoadCheckpoint 整体加载检查点。
// 融合头输入宽度与模型不一致返回 CONFIGURATION；
// 缺失或形状不符的张量同样返回错误，且不修改任何参数，模型保持原状态。
func (m *HybridModel) LoadCheckpoint(ck *Checkpoint) error {
	if ck == nil {
		return core.NewConfigurationError(core.ModuleModel, "checkpoint is nil")
	}
	if t, ok := ck.Tensors[m.Head.inputWeightName(ComponentHead)]; ok && len(t.Shape) == 2 && t.Shape[1] != m.Head.InputDim {
		return core.WrapDomainError(core.ModuleModel, core.ErrorCodeConfiguration, ErrFusedWidthMismatch,
			"checkpoint %q: head input width %d, model fused width %d", ck.Version, t.Shape[1], m.Head.InputDim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ck.Apply(m.Parameters()); err != nil {
		return err
	}
	m.loaded = true
	m.version = ck.Version
	metrics.ModelDegraded.Set(0)
	return nil
}

// LoadBlob 解析并加载检查点 blob。
func (m *HybridModel) LoadBlob(blob []byte) error {
	ck, err := DecodeCheckpoint(blob)
	if err != nil {
		return err
	}
	return m.LoadCheckpoint(ck)
}

// Embed 并发计算四个模态的嵌入。各编码器互不依赖。
func (m *HybridModel) Embed(ctx context.Context, in *feature.Inputs) (*Embeddings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embed(ctx, in)
}

func (m *HybridModel) embed(ctx context.Context, in *feature.Inputs) (*Embeddings, error) {
	var out Embeddings
	g, gctx := errgroup.WithContext(ctx)
	// 编码器在独立 goroutine 中运行，panic 必须在这里转换为错误
	run := func(name string, fn func() error) {
		g.Go(func() (err error) {
			defer observe(name, time.Now())
			defer func() {
				if r := recover(); r != nil {
					err = core.NewDomainError(core.ModuleModel, core.ErrorCodeInference, fmt.Sprintf("%s encoder panic: %v", name, r))
				}
			}()
			return fn()
		})
	}
	run("image", func() (err error) {
		out.Image, err = m.Image.Encode(gctx, in.Image)
		return err
	})
	run("text", func() (err error) {
		out.Title, err = m.Text.Encode(gctx, in.Title)
		return err
	})
	run("temporal", func() (err error) {
		out.Temporal, err = m.Temporal.Encode(in.Hour, in.Day)
		return err
	})
	run("numeric", func() (err error) {
		out.Numeric, err = m.Numeric.Encode(in.Numeric)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func observe(name string, start time.Time) {
	metrics.EncoderDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// Forward 返回 logits。
func (m *HybridModel) Forward(ctx context.Context, in *feature.Inputs) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emb, err := m.embed(ctx, in)
	if err != nil {
		return nil, err
	}
	return m.Head.Forward(emb.Fused())
}

// Predict 返回 argmax 类别（并列时取第一个）。
func (m *HybridModel) Predict(ctx context.Context, in *feature.Inputs) (int, error) {
	logits, err := m.Forward(ctx, in)
	if err != nil {
		return 0, err
	}
	class := nn.Argmax(logits)
	if class < 0 || class >= m.Head.NumClasses {
		return 0, core.NewDomainError(core.ModuleModel, core.ErrorCodeInference, fmt.Sprintf("argmax %d out of range", class))
	}
	return class, nil
}
