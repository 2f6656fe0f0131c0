// Package api 是推理服务的 HTTP 入口：
//
//	POST /predict                         预测 CTR 档位
//	GET  /health                          ok / degraded（200），unavailable（503）
//	GET  /metrics                         Prometheus 指标
//	GET  /channels/{channel_id}/embedding 频道嵌入（仅在启用频道特征时注册）
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/ctrkit/pkg/logger"
	"github.com/rushteam/ctrkit/service"
)

// DefaultMaxBodyBytes 请求体上限（base64 缩略图）
const DefaultMaxBodyBytes = 8 << 20

// Handler HTTP 处理器
type Handler struct {
	svc          *service.InferenceService
	channels     *service.ChannelEmbedder
	maxBodyBytes int64
}

// HandlerOption Handler 配置选项
type HandlerOption func(*Handler)

// WithChannelEmbedder 启用频道嵌入端点
func WithChannelEmbedder(e *service.ChannelEmbedder) HandlerOption {
	return func(h *Handler) {
		h.channels = e
	}
}

// WithMaxBodyBytes 设置请求体上限
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(svc *service.InferenceService, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter 注册路由与中间件。
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/predict", h.predict)
	if h.channels != nil {
		r.Get("/channels/{channel_id}/embedding", h.channelEmbedding)
	}
	return r
}

// requestLogger 把请求 ID 写入 context 并记录访问日志。
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.Ctx(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	})
}
