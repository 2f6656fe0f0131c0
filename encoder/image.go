package encoder

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/ctrkit/core"
)

// Variants 支持的图像骨干网络及其输出宽度（去掉分类头后的特征维度）。
var Variants = map[string]int{
	"resnet18": 512,
	"resnet50": 2048,
}

// DefaultVariant 默认骨干网络
const DefaultVariant = "resnet50"

// SupportedVariants 返回排序后的骨干网络名称，用于错误提示。
func SupportedVariants() []string {
	names := make([]string, 0, len(Variants))
	for name := range Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImageEncoder 是预训练卷积骨干网络的薄封装。
type ImageEncoder struct {
	Variant  string
	Width    int
	Backbone core.ImageBackbone
}

// NewImageEncoder 创建图像编码器。
// 不支持的 variant，或骨干网络声明的输出宽度与 variant 不一致，均返回 CONFIGURATION。
func NewImageEncoder(variant string, backbone core.ImageBackbone) (*ImageEncoder, error) {
	width, ok := Variants[variant]
	if !ok {
		return nil, core.NewConfigurationError(core.ModuleEncoder,
			"unsupported backbone %q (supported: %v)", variant, SupportedVariants())
	}
	if backbone == nil {
		return nil, core.NewConfigurationError(core.ModuleEncoder, "image encoder: backbone is required")
	}
	if w := backbone.OutputWidth(); w != width {
		return nil, core.NewConfigurationError(core.ModuleEncoder,
			"backbone %s declares width %d, want %d", variant, w, width)
	}
	return &ImageEncoder{Variant: variant, Width: width, Backbone: backbone}, nil
}

func (e *ImageEncoder) OutputDim() int { return e.Width }

// Encode 提取缩略图特征。
func (e *ImageEncoder) Encode(ctx context.Context, img core.ImageTensor) ([]float32, error) {
	if want := core.ImageChannels * core.ImageSize * core.ImageSize; len(img.Data) != want {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInference,
			fmt.Sprintf("image tensor has %d values, want %d", len(img.Data), want))
	}
	feats, err := e.Backbone.ExtractFeatures(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extract image features: %w", err)
	}
	if len(feats) != e.Width {
		return nil, core.NewDomainError(core.ModuleEncoder, core.ErrorCodeInference,
			fmt.Sprintf("backbone %s returned %d features, want %d", e.Variant, len(feats), e.Width))
	}
	return feats, nil
}
