package core

import "context"

// ImageSize 是缩略图张量的边长（128×128）。
const ImageSize = 128

// ImageChannels 是缩略图张量的通道数（RGB）。
const ImageChannels = 3

// ImageTensor 是 3×128×128 的通道优先（CHW）图像张量，取值范围 [0,1]。
// Data 的下标为 c*ImageSize*ImageSize + y*ImageSize + x。
type ImageTensor struct {
	Data []float32
}

// NewImageTensor 创建全零图像张量。
func NewImageTensor() ImageTensor {
	return ImageTensor{Data: make([]float32, ImageChannels*ImageSize*ImageSize)}
}

// At 返回 (c, y, x) 处的像素值。
func (t ImageTensor) At(c, y, x int) float32 {
	return t.Data[c*ImageSize*ImageSize+y*ImageSize+x]
}

// Tokenizer、TextBackbone、ImageBackbone 是外部模型注册中心（model registry）提供的三项能力。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（backbone）实现
//   - 融合逻辑只依赖这三个操作，不依赖具体骨干网络实现
//   - 预训练权重在推理期间冻结，实现必须是只读的前向计算
//
// 实现：
//   - backbone.HashTokenizer / backbone.EmbeddingTransformer / backbone.GridPoolExtractor（本地确定性实现）
//   - backbone.RemoteRegistry（TorchServe 风格的远程模型服务）
type Tokenizer interface {
	// Tokenize 将文本切分为 token id 序列，截断或补齐到 maxLen，
	// 返回等长的 attention mask（1 表示有效 token，0 表示 padding）。
	Tokenize(ctx context.Context, text string, maxLen int) (ids []int64, mask []int64, err error)
}

// TextBackbone 是冻结的预训练 Transformer。
type TextBackbone interface {
	// Encode 返回每个 token 的隐藏状态，形状为 [len(ids)][HiddenSize()]
	Encode(ctx context.Context, ids []int64, mask []int64) ([][]float32, error)

	// HiddenSize 隐藏层维度（DeBERTa-v3-base 为 768）
	HiddenSize() int
}

// ImageBackbone 是去掉分类头的冻结卷积特征提取器。
type ImageBackbone interface {
	// ExtractFeatures 输出长度为 OutputWidth() 的扁平特征向量
	ExtractFeatures(ctx context.Context, img ImageTensor) ([]float32, error)

	// OutputWidth 特征宽度（resnet18 为 512，resnet50 为 2048）
	OutputWidth() int
}
