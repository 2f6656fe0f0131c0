package feature

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/ctrkit/core"
)

// BoundsLoader 加载归一化边界。训练流程会把边界导出为 JSON（与检查点一同发布），
// 格式与 Bounds 的 json 标签一致：
//
//	{"video_length": {"min": 0, "max": 134675, "log_scale": true}, ...}
//
// 文件中缺失的特征沿用 DefaultBounds 的值。
type BoundsLoader interface {
	Load(ctx context.Context, source string) (Bounds, error)
}

// FileBoundsLoader 从本地文件加载边界
type FileBoundsLoader struct{}

func NewFileBoundsLoader() *FileBoundsLoader {
	return &FileBoundsLoader{}
}

func (l *FileBoundsLoader) Load(_ context.Context, path string) (Bounds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bounds{}, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeConfiguration, err, "read bounds %s", path)
	}
	return parseBounds(data, path)
}

// HTTPBoundsLoader 从 HTTP 接口加载边界
type HTTPBoundsLoader struct {
	client *http.Client
}

// NewHTTPBoundsLoader 创建 HTTP 加载器，timeout<=0 时使用 10 秒。
func NewHTTPBoundsLoader(timeout time.Duration) *HTTPBoundsLoader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBoundsLoader{client: &http.Client{Timeout: timeout}}
}

func (l *HTTPBoundsLoader) Load(ctx context.Context, url string) (Bounds, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Bounds{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Bounds{}, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeConfiguration, err, "fetch bounds %s", url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Bounds{}, fmt.Errorf("read bounds response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Bounds{}, core.NewConfigurationError(core.ModuleFeature, "fetch bounds %s: status=%d", url, resp.StatusCode)
	}
	return parseBounds(data, url)
}

// LoadBounds 按 source 的形式选择加载器：http(s) URL 走 HTTP，其余视为文件路径。
func LoadBounds(ctx context.Context, source string) (Bounds, error) {
	var loader BoundsLoader = NewFileBoundsLoader()
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		loader = NewHTTPBoundsLoader(0)
	}
	return loader.Load(ctx, source)
}

func parseBounds(data []byte, source string) (Bounds, error) {
	b := DefaultBounds()
	if err := json.Unmarshal(data, &b); err != nil {
		return Bounds{}, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeConfiguration, err, "parse bounds %s", source)
	}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}
