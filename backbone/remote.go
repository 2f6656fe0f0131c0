package backbone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pkg/logger"
	"github.com/rushteam/ctrkit/pkg/metrics"
)

// RemoteRegistry 远程模型注册中心客户端，同时实现 Tokenizer、TextBackbone、ImageBackbone。
//
// REST 端点（JSON）：
//   - POST {endpoint}/tokenize  {"text", "max_length"}      → {"input_ids", "attention_mask"}
//   - POST {endpoint}/encode    {"input_ids", "attention_mask"} → {"hidden_states"}
//   - POST {endpoint}/extract   {"variant", "shape", "data"} → {"features"}
//   - GET  {endpoint}/ping                                  → 200
//
// 所有调用共用一个熔断器：连续失败达到阈值后快速失败（UNAVAILABLE），
// 避免在模型服务故障时堆积请求。不做自动重试。
type RemoteRegistry struct {
	// Endpoint 服务端点，例如 "http://localhost:8080"
	Endpoint string

	// Variant 图像骨干网络名称，随 extract 请求发送
	Variant string

	// Hidden 文本骨干隐藏层维度
	Hidden int

	// Width 图像特征宽度
	Width int

	// Timeout 单次 HTTP 调用超时
	Timeout time.Duration

	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold uint32

	// OpenTimeout 熔断后多久进入半开状态
	OpenTimeout time.Duration

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// RemoteOption RemoteRegistry 配置选项
type RemoteOption func(*RemoteRegistry)

// WithRemoteTimeout 设置单次调用超时
func WithRemoteTimeout(timeout time.Duration) RemoteOption {
	return func(r *RemoteRegistry) {
		r.Timeout = timeout
		if r.httpClient != nil {
			r.httpClient.Timeout = timeout
		}
	}
}

// WithRemoteHTTPClient 设置自定义 HTTP 客户端
func WithRemoteHTTPClient(httpClient *http.Client) RemoteOption {
	return func(r *RemoteRegistry) {
		r.httpClient = httpClient
	}
}

// WithRemoteBreaker 设置熔断阈值与恢复时间
func WithRemoteBreaker(failureThreshold uint32, openTimeout time.Duration) RemoteOption {
	return func(r *RemoteRegistry) {
		r.FailureThreshold = failureThreshold
		r.OpenTimeout = openTimeout
	}
}

// NewRemoteRegistry 创建远程注册中心客户端。hidden / width 为服务端声明的维度。
func NewRemoteRegistry(endpoint, variant string, hidden, width int, opts ...RemoteOption) *RemoteRegistry {
	r := &RemoteRegistry{
		Endpoint:         strings.TrimRight(endpoint, "/"),
		Variant:          variant,
		Hidden:           hidden,
		Width:            width,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: r.Timeout}
	}

	name := "backbone:" + r.Endpoint
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	r.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     r.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("backbone circuit breaker state changed")
		},
	})
	return r
}

func (r *RemoteRegistry) HiddenSize() int  { return r.Hidden }
func (r *RemoteRegistry) OutputWidth() int { return r.Width }

// State 熔断器当前状态
func (r *RemoteRegistry) State() gobreaker.State { return r.breaker.State() }

type tokenizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
}

type tokenizeResponse struct {
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
}

type encodeRequest struct {
	InputIDs      []int64 `json:"input_ids"`
	AttentionMask []int64 `json:"attention_mask"`
}

type encodeResponse struct {
	HiddenStates [][]float32 `json:"hidden_states"`
}

type extractRequest struct {
	Variant string    `json:"variant"`
	Shape   []int     `json:"shape"`
	Data    []float32 `json:"data"`
}

type extractResponse struct {
	Features []float32 `json:"features"`
}

func (r *RemoteRegistry) Tokenize(ctx context.Context, text string, maxLen int) ([]int64, []int64, error) {
	var resp tokenizeResponse
	if err := r.call(ctx, "/tokenize", tokenizeRequest{Text: text, MaxLength: maxLen}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.InputIDs, resp.AttentionMask, nil
}

func (r *RemoteRegistry) Encode(ctx context.Context, ids, mask []int64) ([][]float32, error) {
	var resp encodeResponse
	if err := r.call(ctx, "/encode", encodeRequest{InputIDs: ids, AttentionMask: mask}, &resp); err != nil {
		return nil, err
	}
	return resp.HiddenStates, nil
}

func (r *RemoteRegistry) ExtractFeatures(ctx context.Context, img core.ImageTensor) ([]float32, error) {
	req := extractRequest{
		Variant: r.Variant,
		Shape:   []int{core.ImageChannels, core.ImageSize, core.ImageSize},
		Data:    img.Data,
	}
	var resp extractResponse
	if err := r.call(ctx, "/extract", req, &resp); err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// Ping 检查模型服务是否可用（经过熔断器）。
func (r *RemoteRegistry) Ping(ctx context.Context) error {
	_, err := r.execute(ctx, http.MethodGet, "/ping", nil)
	return err
}

func (r *RemoteRegistry) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

func (r *RemoteRegistry) call(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	raw, err := r.execute(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return core.WrapDomainError(core.ModuleBackbone, core.ErrorCodeInference, err, "decode %s response", path)
	}
	return nil
}

func (r *RemoteRegistry) execute(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	raw, err := r.breaker.Execute(func() ([]byte, error) {
		return r.do(ctx, method, path, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, core.WrapDomainError(core.ModuleBackbone, core.ErrorCodeUnavailable, err, "backbone %s", path)
	}
	return raw, err
}

func (r *RemoteRegistry) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, r.Endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleBackbone, core.ErrorCodeUnavailable, err, "backbone request %s", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		code := core.ErrorCodeInference
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
			code = core.ErrorCodeUnavailable
		}
		return nil, core.NewDomainError(core.ModuleBackbone, code,
			fmt.Sprintf("backbone %s: status=%d, body=%s", path, resp.StatusCode, truncate(data, 256)))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var (
	_ core.Tokenizer     = (*RemoteRegistry)(nil)
	_ core.TextBackbone  = (*RemoteRegistry)(nil)
	_ core.ImageBackbone = (*RemoteRegistry)(nil)
	_ io.Closer          = (*RemoteRegistry)(nil)
)
