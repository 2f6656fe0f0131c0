package feature

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
)

// 双线性插值的整数舍入最多带来 1 个灰度级的误差
const pixelTolerance = 1.5 / 255

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeThumbnail_Corrupted(t *testing.T) {
	valid := solidPNG(t, 16, 16, color.White)
	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": valid[:len(valid)/2],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeThumbnail(data)
			require.Error(t, err)
			assert.True(t, core.IsInvalidImage(err))
		})
	}
}

func TestDecodeThumbnail_DropsAlpha(t *testing.T) {
	data := solidPNG(t, 4, 4, color.NRGBA{R: 200, G: 100, B: 50, A: 10})
	img, err := DecodeThumbnail(data)
	require.NoError(t, err)
	i := img.PixOffset(1, 1)
	assert.Equal(t, []uint8{200, 100, 50, 255}, img.Pix[i:i+4])
}

func TestDecodeThumbnail_JPEG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 32, 20))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))
	img, err := DecodeThumbnail(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestResizeAndCrop_ShapeAndRange(t *testing.T) {
	for _, size := range [][2]int{{320, 180}, {90, 200}, {128, 128}, {64, 64}} {
		img, err := DecodeThumbnail(solidPNG(t, size[0], size[1], color.NRGBA{R: 255, G: 0, B: 128, A: 255}))
		require.NoError(t, err)
		tensor := ResizeAndCrop(img)
		require.Len(t, tensor.Data, core.ImageChannels*core.ImageSize*core.ImageSize)
		for _, v := range tensor.Data {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
		assert.InDelta(t, 1.0, tensor.At(0, 64, 64), pixelTolerance)
		assert.InDelta(t, 0.0, tensor.At(1, 64, 64), pixelTolerance)
		assert.InDelta(t, 128.0/255, tensor.At(2, 64, 64), pixelTolerance)
	}
}

func TestResizeAndCrop_CenterCrop(t *testing.T) {
	// 左半黑、右半白的 256×128 图像：缩放后宽 256，裁剪中间 128 列，
	// 左右两侧各取 64 列，分界在中间。
	src := image.NewRGBA(image.Rect(0, 0, 256, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 256; x++ {
			v := uint8(0)
			if x >= 128 {
				v = 255
			}
			src.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	tensor := ResizeAndCrop(src)
	assert.InDelta(t, 0.0, tensor.At(0, 10, 0), pixelTolerance)
	assert.InDelta(t, 0.0, tensor.At(0, 10, 60), pixelTolerance)
	assert.InDelta(t, 1.0, tensor.At(0, 10, 68), pixelTolerance)
	assert.InDelta(t, 1.0, tensor.At(0, 10, 127), pixelTolerance)
}
