package feature

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"  // 注册 GIF 解码器
	_ "image/jpeg" // 注册 JPEG 解码器
	_ "image/png"  // 注册 PNG 解码器
	"math"

	_ "golang.org/x/image/bmp"  // 注册 BMP 解码器
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 注册 WEBP 解码器

	"github.com/rushteam/ctrkit/core"
)

// MaxThumbnailSide 是允许解码的缩略图最大边长，防止超大图片耗尽内存。
const MaxThumbnailSide = 8192

// DecodeThumbnail 解码缩略图并转换为 3 通道 RGB 图像（丢弃 alpha 通道）。
// 无法解码时返回 INVALID_IMAGE。
func DecodeThumbnail(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidImage, "thumbnail is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeInvalidImage, err, "invalid thumbnail image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxThumbnailSide || cfg.Height > MaxThumbnailSide {
		return nil, core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidImage,
			"thumbnail dimensions out of range")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeInvalidImage, err, "invalid %s thumbnail", format)
	}
	return toRGB(img), nil
}

// toRGB 把任意颜色模型转换为不透明的 RGBA：取非预乘的 RGB 分量，alpha 固定为 255。
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// ResizeAndCrop 短边缩放到 128（双线性），中心裁剪 128×128，缩放到 [0,1] 的 CHW 张量。
func ResizeAndCrop(img *image.RGBA) core.ImageTensor {
	const size = core.ImageSize
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	newW, newH := size, size
	if w <= h {
		newH = int(float64(size) * float64(h) / float64(w))
	} else {
		newW = int(float64(size) * float64(w) / float64(h))
	}
	newW = max(newW, size)
	newH = max(newH, size)

	scaled := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	left := int(math.RoundToEven(float64(newW-size) / 2))
	top := int(math.RoundToEven(float64(newH-size) / 2))

	t := core.NewImageTensor()
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := scaled.PixOffset(left+x, top+y)
			for c := 0; c < core.ImageChannels; c++ {
				t.Data[c*plane+y*size+x] = float32(scaled.Pix[i+c]) / 255
			}
		}
	}
	return t
}
