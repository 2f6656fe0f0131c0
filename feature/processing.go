package feature

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pkg/logger"
	"github.com/rushteam/ctrkit/pkg/metrics"
)

// NormalizeEpsilon 是 Min-Max 归一化分母上的平滑项。
const NormalizeEpsilon = 1e-9

// NumNumericFeatures 数值特征个数。
const NumNumericFeatures = 6

// 数值特征在 NumericVector 中的固定顺序。
const (
	IdxVideoLength = iota
	IdxTitleLength
	IdxSubscribers
	IdxTotalViews
	IdxTotalVideos
	IdxChannelAge
)

// NumericVector 是归一化后的 6 维数值特征，顺序见 Idx* 常量。
type NumericVector [NumNumericFeatures]float32

// Slice 返回底层数组的切片拷贝。
func (v NumericVector) Slice() []float32 {
	out := make([]float32, NumNumericFeatures)
	copy(out, v[:])
	return out
}

// Normalize Min-Max 归一化（可选 Log 变换）
// 公式: x' = (x - min) / (max - min + ε)，logScale 时先对 x、min、max 做 log1p
// 特点: 不截断到 [0, 1]，超出训练集范围的输入会外推到 0/1 之外
func Normalize(value, min, max float64, logScale bool) float64 {
	if logScale {
		value = math.Log1p(value)
		min = math.Log1p(min)
		max = math.Log1p(max)
	}
	return (value - min) / (max - min + NormalizeEpsilon)
}

// Bound 是单个特征的归一化边界（由训练数据集统计得到）。
type Bound struct {
	Min      float64 `yaml:"min" json:"min"`
	Max      float64 `yaml:"max" json:"max"`
	LogScale bool    `yaml:"log_scale" json:"log_scale"`
}

// Normalize 使用该边界归一化 value。
func (b Bound) Normalize(value float64) float64 {
	return Normalize(value, b.Min, b.Max, b.LogScale)
}

// Bounds 是六个数值特征的归一化边界。
type Bounds struct {
	VideoLength Bound `yaml:"video_length" json:"video_length"`
	TitleLength Bound `yaml:"title_length" json:"title_length"`
	Subscribers Bound `yaml:"subscribers" json:"subscribers"`
	TotalViews  Bound `yaml:"total_views" json:"total_views"`
	TotalVideos Bound `yaml:"total_videos" json:"total_videos"`
	ChannelAge  Bound `yaml:"channel_age" json:"channel_age"`
}

// DefaultBounds 返回训练数据集的边界。
func DefaultBounds() Bounds {
	return Bounds{
		VideoLength: Bound{Min: 0, Max: 134675, LogScale: true}, // 数据集中最长视频（秒）
		TitleLength: Bound{Min: 1, Max: 100},
		Subscribers: Bound{Min: 0, Max: 453_000_000, LogScale: true},
		TotalViews:  Bound{Min: 0, Max: 326_000_000_000, LogScale: true},
		TotalVideos: Bound{Min: 0, Max: 645_000},
		ChannelAge:  Bound{Min: 0, Max: 20},
	}
}

// Validate 检查边界是否合法（max > min；log 变换要求 min > -1）。
func (b Bounds) Validate() error {
	named := map[string]Bound{
		"video_length": b.VideoLength,
		"title_length": b.TitleLength,
		"subscribers":  b.Subscribers,
		"total_views":  b.TotalViews,
		"total_videos": b.TotalVideos,
		"channel_age":  b.ChannelAge,
	}
	for name, bd := range named {
		if bd.Max <= bd.Min {
			return core.NewConfigurationError(core.ModuleFeature, "bounds %s: max %v must exceed min %v", name, bd.Max, bd.Min)
		}
		if bd.LogScale && bd.Min <= -1 {
			return core.NewConfigurationError(core.ModuleFeature, "bounds %s: log scale needs min > -1, got %v", name, bd.Min)
		}
	}
	return nil
}

var videoLengthPattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})$`)

// ParseVideoLengthStrict 将 "HH:MM:SS" 转换为秒数，格式不匹配时返回 INVALID_INPUT。
func ParseVideoLengthStrict(s string) (float64, error) {
	m := videoLengthPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, core.NewValidationError(core.ModuleFeature, "invalid video length format: %q", s)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	return float64(hours*3600 + minutes*60 + seconds), nil
}

// ParseVideoLength 将 "HH:MM:SS" 转换为秒数；格式不匹配时返回 0.0（历史兼容行为）。
func ParseVideoLength(s string) float64 {
	v, err := ParseVideoLengthStrict(s)
	if err != nil {
		return 0
	}
	return v
}

// Preprocessor 把原始候选转换为模型输入。
type Preprocessor struct {
	Bounds Bounds

	// StrictVideoLength 为 true 时，无法解析的视频时长直接拒绝请求；
	// 为 false 时沿用历史行为回退为 0 秒，并记录告警与计数。
	StrictVideoLength bool
}

// NewPreprocessor 创建预处理器。
func NewPreprocessor(bounds Bounds, strictVideoLength bool) *Preprocessor {
	return &Preprocessor{Bounds: bounds, StrictVideoLength: strictVideoLength}
}

// VideoLengthSeconds 按当前策略解析视频时长。
func (p *Preprocessor) VideoLengthSeconds(ctx context.Context, s string) (float64, error) {
	v, err := ParseVideoLengthStrict(s)
	if err == nil {
		return v, nil
	}
	if p.StrictVideoLength {
		return 0, err
	}
	metrics.VideoLengthFallbacks.Inc()
	logger.Ctx(ctx).Warn().Str("video_length", s).Msg("unparseable video length, falling back to 0s")
	return 0, nil
}

// NumericFeatures 计算归一化后的数值特征向量。
// 标题长度按 Unicode 字符数计算。
func (p *Preprocessor) NumericFeatures(ctx context.Context, c *core.RawCandidate) (NumericVector, error) {
	var v NumericVector
	seconds, err := p.VideoLengthSeconds(ctx, c.VideoLength)
	if err != nil {
		return v, err
	}
	b := p.Bounds
	v[IdxVideoLength] = float32(b.VideoLength.Normalize(seconds))
	v[IdxTitleLength] = float32(b.TitleLength.Normalize(float64(utf8.RuneCountInString(c.Title))))
	v[IdxSubscribers] = float32(b.Subscribers.Normalize(float64(c.ChannelSubscribers)))
	v[IdxTotalViews] = float32(b.TotalViews.Normalize(float64(c.TotalChannelViews)))
	v[IdxTotalVideos] = float32(b.TotalVideos.Normalize(float64(c.TotalVideos)))
	v[IdxChannelAge] = float32(b.ChannelAge.Normalize(float64(c.ChannelAgeYears)))
	return v, nil
}

// Inputs 是预处理的完整输出。
type Inputs struct {
	Image   core.ImageTensor
	Numeric NumericVector
	Title   string
	Hour    int
	Day     int
}

// Process 解码缩略图、计算数值特征并透传时间字段。
func (p *Preprocessor) Process(ctx context.Context, c *core.RawCandidate) (*Inputs, error) {
	img, err := DecodeThumbnail(c.Thumbnail)
	if err != nil {
		return nil, err
	}
	numeric, err := p.NumericFeatures(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Inputs{
		Image:   ResizeAndCrop(img),
		Numeric: numeric,
		Title:   c.Title,
		Hour:    c.UploadHour,
		Day:     c.UploadDayOfWeek,
	}, nil
}
