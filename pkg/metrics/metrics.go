// Package metrics 定义推理服务的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsTotal 按预测类别统计成功预测次数
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrkit_predictions_total",
			Help: "Total successful predictions by class",
		},
		[]string{"class"},
	)

	// PredictionErrors 按错误码统计失败的预测
	PredictionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrkit_prediction_errors_total",
			Help: "Total failed predictions by error code",
		},
		[]string{"code"},
	)

	// InferenceDuration 单次预测耗时（包含预处理与四个编码器）
	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ctrkit_inference_duration_seconds",
			Help:    "End-to-end prediction latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// EncoderDuration 各模态编码器耗时
	EncoderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctrkit_encoder_duration_seconds",
			Help:    "Per-modality encoder latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"encoder"},
	)

	// ModelDegraded 为 1 表示检查点未加载，模型以预训练骨干 + 未训练融合层运行
	ModelDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctrkit_model_degraded",
			Help: "1 when the model serves without a trained checkpoint",
		},
	)

	// InFlight 正在执行的预测数
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctrkit_inflight_predictions",
			Help: "Predictions currently executing",
		},
	)

	// CacheHits / CacheMisses 预测缓存命中情况
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrkit_prediction_cache_hits_total",
			Help: "Prediction cache hits",
		},
	)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrkit_prediction_cache_misses_total",
			Help: "Prediction cache misses",
		},
	)

	// VideoLengthFallbacks 视频时长无法解析、回退为 0 秒的次数
	VideoLengthFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrkit_video_length_fallback_total",
			Help: "Video lengths that failed to parse and fell back to zero seconds",
		},
	)

	// BreakerState 远程骨干网络熔断器状态（0 closed, 1 half-open, 2 open）
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctrkit_backbone_breaker_state",
			Help: "Remote backbone circuit breaker state",
		},
		[]string{"name"},
	)
)
