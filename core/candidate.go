package core

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
)

// RawCandidate 是一次预测请求的原始候选视频。
// 每个请求创建一次，处理期间不可修改，响应后丢弃。
type RawCandidate struct {
	Title              string `json:"videoTitle"`
	Thumbnail          []byte `json:"-" validate:"required,min=1"`
	VideoLength        string `json:"videoLength"` // "HH:MM:SS"
	ChannelSubscribers int64  `json:"channelSubscribers" validate:"gte=0"`
	TotalChannelViews  int64  `json:"totalChannelViews" validate:"gte=0"`
	TotalVideos        int64  `json:"totalVideos" validate:"gte=0"`
	ChannelAgeYears    int64  `json:"channelAgeYears" validate:"gte=0"`
	UploadDayOfWeek    int    `json:"videoUploadDayofWeek" validate:"min=0,max=6"`
	UploadHour         int    `json:"videoUploadHour" validate:"min=0,max=23"`
}

// PredictionResult 是预测结果。
type PredictionResult struct {
	// ClassID 取值范围 [0, num_classes)
	ClassID int

	// Degraded 为 true 表示检查点未加载，融合头/数值层为未训练权重
	Degraded bool

	// CheckpointVersion 生效检查点的版本（降级时为空）
	CheckpointVersion string

	// Cached 结果是否来自预测缓存
	Cached bool
}

var (
	candidateValidate     *validator.Validate
	candidateValidateOnce sync.Once
)

func getValidator() *validator.Validate {
	candidateValidateOnce.Do(func() {
		candidateValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return candidateValidate
}

// Validate 校验请求字段：计数非负、星期 [0,6]、小时 [0,23]、缩略图非空。
// 校验失败返回 INVALID_INPUT，保证非法请求不会进入模型计算。
func (c *RawCandidate) Validate() error {
	if c == nil {
		return NewValidationError(ModuleService, "candidate is required")
	}
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewValidationError(ModuleService, "%s: failed %q (param %q, value %v)",
				fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return WrapDomainError(ModuleService, ErrorCodeInvalidInput, err, "invalid candidate")
	}
	return nil
}

// ContentHash 返回候选内容的 64 位哈希，用于预测缓存与并发去重。
// 所有字段都参与哈希，字段之间写入长度前缀避免拼接歧义。
func (c *RawCandidate) ContentHash() uint64 {
	h := xxhash.New()
	var buf [8]byte
	writeBytes := func(b []byte) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(b)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write(b)
	}
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	writeBytes([]byte(c.Title))
	writeBytes(c.Thumbnail)
	writeBytes([]byte(c.VideoLength))
	writeInt(c.ChannelSubscribers)
	writeInt(c.TotalChannelViews)
	writeInt(c.TotalVideos)
	writeInt(c.ChannelAgeYears)
	writeInt(int64(c.UploadDayOfWeek))
	writeInt(int64(c.UploadHour))
	return h.Sum64()
}
