package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/service"
)

// PredictRequest 请求体，字段名沿用既有客户端约定。
// 所有字段都必须出现，缺失字段返回 INVALID_INPUT 而不是按零值处理。
type PredictRequest struct {
	VideoTitle           *string `json:"videoTitle" validate:"required"`
	VideoLength          *string `json:"videoLength" validate:"required"`
	ChannelSubscribers   *int64  `json:"channelSubscribers" validate:"required"`
	TotalChannelViews    *int64  `json:"totalChannelViews" validate:"required"`
	TotalVideos          *int64  `json:"totalVideos" validate:"required"`
	VideoUploadDayofWeek *int    `json:"videoUploadDayofWeek" validate:"required"`
	VideoUploadHour      *int    `json:"videoUploadHour" validate:"required"`
	ChannelAgeYears      *int64  `json:"channelAgeYears" validate:"required"`
	// Thumbnail base64 编码的图片
	Thumbnail *string `json:"thumbnail" validate:"required"`
}

var (
	requestValidate     *validator.Validate
	requestValidateOnce sync.Once
)

func getValidator() *validator.Validate {
	requestValidateOnce.Do(func() {
		requestValidate = validator.New(validator.WithRequiredStructEnabled())
		requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			return name
		})
	})
	return requestValidate
}

// PredictResponse 成功响应
type PredictResponse struct {
	Success    bool   `json:"success"`
	Prediction int    `json:"prediction"`
	Message    string `json:"message"`
	Degraded   bool   `json:"degraded"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status            string `json:"status"`
	ModelLoaded       bool   `json:"model_loaded"`
	Degraded          bool   `json:"degraded"`
	CheckpointVersion string `json:"checkpoint_version,omitempty"`
}

// ChannelEmbeddingResponse 频道嵌入响应
type ChannelEmbeddingResponse struct {
	Success   bool      `json:"success"`
	ChannelID string    `json:"channel_id"`
	Embedding []float32 `json:"embedding"`
	Trained   bool      `json:"trained"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
}

// toCandidate 把请求体转换为候选；缩略图 base64 解码失败返回 INVALID_IMAGE。
func (req *PredictRequest) toCandidate() (*core.RawCandidate, error) {
	if err := getValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, core.NewValidationError(core.ModuleService, "field %s is required", verrs[0].Field())
		}
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "invalid request")
	}
	if *req.Thumbnail == "" {
		return nil, core.NewValidationError(core.ModuleService, "thumbnail is required")
	}
	thumb, err := base64.StdEncoding.DecodeString(*req.Thumbnail)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidImage, err, "invalid thumbnail image")
	}
	return &core.RawCandidate{
		Title:              *req.VideoTitle,
		Thumbnail:          thumb,
		VideoLength:        *req.VideoLength,
		ChannelSubscribers: *req.ChannelSubscribers,
		TotalChannelViews:  *req.TotalChannelViews,
		TotalVideos:        *req.TotalVideos,
		ChannelAgeYears:    *req.ChannelAgeYears,
		UploadDayOfWeek:    *req.VideoUploadDayofWeek,
		UploadHour:         *req.VideoUploadHour,
	}, nil
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Code: core.ErrorCodeInvalidInput, Detail: "request body too large"})
			return
		}
		writeError(w, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "read request body"))
		return
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, core.WrapDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err, "malformed request body"))
		return
	}
	c, err := req.toCandidate()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Predict(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PredictResponse{
		Success:    true,
		Prediction: res.ClassID,
		Message:    "Prediction generated successfully",
		Degraded:   res.Degraded,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Health(r.Context())
	status := http.StatusOK
	if st.Status == service.StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:            st.Status,
		ModelLoaded:       h.svc.Model() != nil,
		Degraded:          st.Degraded,
		CheckpointVersion: st.CheckpointVersion,
	})
}

func (h *Handler) channelEmbedding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channel_id")
	emb, err := h.channels.Embed(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChannelEmbeddingResponse{
		Success:   true,
		ChannelID: id,
		Embedding: emb,
		Trained:   h.channels.Loaded(),
	})
}
