// Package service 提供端到端推理服务：校验 → 准入规则 → 预处理 → 四路编码器 → 融合头 → argmax。
//
// InferenceService 由调用方显式构造（New）与关闭（Close），不存在进程级单例。
// 并发度由信号量限制，相同内容的并发请求经 singleflight 合并，
// 确定性的输出使得按“检查点版本 + 内容哈希”缓存预测结果成立。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pkg/dsl"
	"github.com/rushteam/ctrkit/pkg/logger"
	"github.com/rushteam/ctrkit/pkg/metrics"
)

const (
	// DefaultRequestTimeout 单次请求默认超时
	DefaultRequestTimeout = 5 * time.Second

	// DefaultMaxConcurrent 默认最大并发前向计算数
	DefaultMaxConcurrent = 4

	cacheKeyPrefix = "ctrkit:pred:"
)

// 健康状态
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// Health 服务健康状态
type Health struct {
	Status            string `json:"status"`
	Degraded          bool   `json:"degraded"`
	CheckpointVersion string `json:"checkpoint_version,omitempty"`
	Detail            string `json:"detail,omitempty"`
}

// InferenceService 推理服务，可并发使用。
type InferenceService struct {
	model *model.HybridModel
	pre   *feature.Preprocessor
	rules *dsl.RuleSet

	maxConcurrent int
	serialize     bool
	timeout       time.Duration
	sem           *semaphore.Weighted
	group         singleflight.Group

	cache    core.Store
	cacheTTL time.Duration

	healthCheck func(ctx context.Context) error
	closers     []io.Closer
	closeOnce   sync.Once
	closed      atomic.Bool
}

// Option InferenceService 配置选项
type Option func(*InferenceService)

// WithPreprocessor 设置预处理器（默认使用默认归一化边界、宽松视频时长解析）
func WithPreprocessor(p *feature.Preprocessor) Option {
	return func(s *InferenceService) {
		s.pre = p
	}
}

// WithRules 设置准入规则
func WithRules(rules *dsl.RuleSet) Option {
	return func(s *InferenceService) {
		s.rules = rules
	}
}

// WithMaxConcurrent 设置最大并发前向计算数
func WithMaxConcurrent(n int) Option {
	return func(s *InferenceService) {
		s.maxConcurrent = n
	}
}

// WithSerialize 为 true 时同一时刻只执行一次前向计算，用于非线程安全的骨干网络。
func WithSerialize(serialize bool) Option {
	return func(s *InferenceService) {
		s.serialize = serialize
	}
}

// WithRequestTimeout 设置单次请求超时（含排队时间）
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *InferenceService) {
		s.timeout = timeout
	}
}

// WithCache 启用预测缓存。ttl 为 0 表示不过期。服务关闭时一并关闭 store。
func WithCache(store core.Store, ttl time.Duration) Option {
	return func(s *InferenceService) {
		s.cache = store
		s.cacheTTL = ttl
	}
}

// WithHealthCheck 设置额外的健康检查（例如远程骨干网络的 Ping），失败时报告 unavailable。
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *InferenceService) {
		s.healthCheck = check
	}
}

// WithCloser 注册关闭时需要释放的资源
func WithCloser(c io.Closer) Option {
	return func(s *InferenceService) {
		if c != nil {
			s.closers = append(s.closers, c)
		}
	}
}

// New 创建推理服务。m 为 nil 表示模型不可用：Predict 快速失败（MODEL_UNAVAILABLE），
// Health 报告 unavailable。
func New(m *model.HybridModel, opts ...Option) *InferenceService {
	s := &InferenceService{
		model:         m,
		maxConcurrent: DefaultMaxConcurrent,
		timeout:       DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pre == nil {
		s.pre = feature.NewPreprocessor(feature.DefaultBounds(), false)
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = DefaultMaxConcurrent
	}
	if s.serialize {
		s.maxConcurrent = 1
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	s.sem = semaphore.NewWeighted(int64(s.maxConcurrent))
	return s
}

// Model 返回底层模型（可能为 nil）
func (s *InferenceService) Model() *model.HybridModel { return s.model }

// Predict 预测候选视频的 CTR 档位。
func (s *InferenceService) Predict(ctx context.Context, c *core.RawCandidate) (*core.PredictionResult, error) {
	start := time.Now()
	res, err := s.predict(ctx, c)
	elapsed := time.Since(start)
	log := logger.Ctx(ctx)
	if err != nil {
		code := errorCode(err)
		metrics.PredictionErrors.WithLabelValues(code).Inc()
		ev := log.Warn()
		if code == core.ErrorCodeInference || code == "INTERNAL" {
			ev = log.Error()
		}
		ev.Err(err).Str("code", code).Dur("latency", elapsed).Msg("prediction failed")
		return nil, err
	}
	metrics.PredictionsTotal.WithLabelValues(strconv.Itoa(res.ClassID)).Inc()
	metrics.InferenceDuration.Observe(elapsed.Seconds())
	log.Info().
		Str("candidate", fmt.Sprintf("%016x", c.ContentHash())).
		Int("class", res.ClassID).
		Bool("cached", res.Cached).
		Bool("degraded", res.Degraded).
		Dur("latency", elapsed).
		Msg("prediction")
	return res, nil
}

func (s *InferenceService) predict(ctx context.Context, c *core.RawCandidate) (*core.PredictionResult, error) {
	if err := s.admit(c); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	version := s.model.Version()
	degraded := s.model.Degraded()
	key := fmt.Sprintf("%s:%016x", version, c.ContentHash())

	if !degraded {
		if class, ok := s.cacheGet(ctx, key); ok {
			return &core.PredictionResult{ClassID: class, CheckpointVersion: version, Cached: true}, nil
		}
	}

	// 合并后的计算不随发起者取消，只受自身超时约束；各调用方的截止时间由下面的 select 保证。
	ch := s.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		class, err := s.run(shared, c)
		if err != nil {
			return nil, err
		}
		if !degraded {
			s.cacheSet(shared, key, class)
		}
		return class, nil
	})
	select {
	case <-ctx.Done():
		return nil, timeoutError(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return &core.PredictionResult{
			ClassID:           r.Val.(int),
			Degraded:          degraded,
			CheckpointVersion: version,
		}, nil
	}
}

// Embed 返回四个模态的嵌入向量（调试与模态隔离检查）。
func (s *InferenceService) Embed(ctx context.Context, c *core.RawCandidate) (*model.Embeddings, error) {
	if err := s.admit(c); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out *model.Embeddings
	err := s.withSlot(ctx, func() error {
		in, err := s.pre.Process(ctx, c)
		if err != nil {
			return err
		}
		return guard(func() error {
			out, err = s.model.Embed(ctx, in)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// admit 在任何模型计算之前完成可用性检查、字段校验与准入规则。
func (s *InferenceService) admit(c *core.RawCandidate) error {
	if s.closed.Load() {
		return core.NewDomainError(core.ModuleService, core.ErrorCodeUnavailable, "service closed")
	}
	if s.model == nil {
		return core.NewDomainError(core.ModuleService, core.ErrorCodeModelUnavailable, "model not loaded")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	return s.rules.Admit(c)
}

// run 预处理并执行一次前向计算。
func (s *InferenceService) run(ctx context.Context, c *core.RawCandidate) (int, error) {
	var class int
	err := s.withSlot(ctx, func() error {
		in, err := s.pre.Process(ctx, c)
		if err != nil {
			return err
		}
		return guard(func() error {
			class, err = s.model.Predict(ctx, in)
			return err
		})
	})
	return class, err
}

// withSlot 在信号量保护下执行 fn；排队或计算超过截止时间均返回 UNAVAILABLE。
func (s *InferenceService) withSlot(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, err, "waiting for inference slot")
	}
	defer s.sem.Release(1)
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	err := fn()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return timeoutError(ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timeoutError(err)
	}
	return err
}

// guard 把前向计算中的 panic 转换为 INFERENCE 错误。
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewDomainError(core.ModuleService, core.ErrorCodeInference, fmt.Sprintf("panic in forward pass: %v", r))
		}
	}()
	return fn()
}

func timeoutError(err error) error {
	return core.WrapDomainError(core.ModuleService, core.ErrorCodeUnavailable, err, "prediction timed out")
}

func errorCode(err error) string {
	if de := core.GetDomainError(err); de != nil {
		return de.Code
	}
	return "INTERNAL"
}

func (s *InferenceService) cacheGet(ctx context.Context, key string) (int, bool) {
	if s.cache == nil {
		return 0, false
	}
	raw, err := s.cache.Get(ctx, cacheKeyPrefix+key)
	if err != nil {
		if !core.IsStoreNotFound(err) {
			logger.Ctx(ctx).Warn().Err(err).Str("store", s.cache.Name()).Msg("prediction cache read failed")
		}
		metrics.CacheMisses.Inc()
		return 0, false
	}
	class, err := strconv.Atoi(string(raw))
	if err != nil || class < 0 || class >= s.model.NumClasses() {
		metrics.CacheMisses.Inc()
		return 0, false
	}
	metrics.CacheHits.Inc()
	return class, true
}

func (s *InferenceService) cacheSet(ctx context.Context, key string, class int) {
	if s.cache == nil {
		return
	}
	var ttl []int
	if s.cacheTTL > 0 {
		ttl = append(ttl, max(1, int(s.cacheTTL/time.Second)))
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+key, []byte(strconv.Itoa(class)), ttl...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("store", s.cache.Name()).Msg("prediction cache write failed")
	}
}

// Health 报告服务状态：模型不可用或健康检查失败为 unavailable，
// 未加载检查点为 degraded，否则为 ok。
func (s *InferenceService) Health(ctx context.Context) Health {
	if s.closed.Load() {
		return Health{Status: StatusUnavailable, Detail: "service closed"}
	}
	if s.model == nil {
		return Health{Status: StatusUnavailable, Detail: "model not loaded"}
	}
	if s.healthCheck != nil {
		if err := s.healthCheck(ctx); err != nil {
			return Health{Status: StatusUnavailable, Degraded: s.model.Degraded(), Detail: err.Error()}
		}
	}
	h := Health{Status: StatusOK, CheckpointVersion: s.model.Version()}
	if s.model.Degraded() {
		h.Status = StatusDegraded
		h.Degraded = true
	}
	return h
}

// Close 释放缓存与骨干网络等资源，可重复调用。
func (s *InferenceService) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cache != nil {
			errs = append(errs, s.cache.Close())
		}
		for _, c := range s.closers {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
