package config

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
)

// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/ctrkit/config/builders"
// 以触发内置骨干网络（local、remote）的 init 注册。

// BackboneBuilder 根据配置构建骨干网络；返回的 io.Closer 在服务关闭时调用（可为 nil）。
type BackboneBuilder func(ctx context.Context, cfg *Config) (model.Backbones, io.Closer, error)

var (
	backboneBuilders   = make(map[string]BackboneBuilder)
	backboneBuildersMu sync.RWMutex
)

// Register 注册一种骨干网络的构建逻辑。
// 建议在 init 中调用，例如：func init() { config.Register("local", BuildLocal) }
func Register(kind string, builder BackboneBuilder) {
	if kind == "" || builder == nil {
		return
	}
	backboneBuildersMu.Lock()
	defer backboneBuildersMu.Unlock()
	backboneBuilders[kind] = builder
}

// IsRegistered 是否已注册
func IsRegistered(kind string) bool {
	backboneBuildersMu.RLock()
	defer backboneBuildersMu.RUnlock()
	_, ok := backboneBuilders[kind]
	return ok
}

// SupportedKinds 返回当前已注册的骨干网络类型（排序），用于错误提示与校验。
func SupportedKinds() []string {
	backboneBuildersMu.RLock()
	defer backboneBuildersMu.RUnlock()
	kinds := make([]string, 0, len(backboneBuilders))
	for k := range backboneBuilders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// BuildBackbones 按 cfg.Backbone.Kind 构建骨干网络。
func BuildBackbones(ctx context.Context, cfg *Config) (model.Backbones, io.Closer, error) {
	backboneBuildersMu.RLock()
	builder, ok := backboneBuilders[cfg.Backbone.Kind]
	backboneBuildersMu.RUnlock()
	if !ok {
		return model.Backbones{}, nil, core.NewConfigurationError(core.ModuleBackbone,
			"unsupported backbone kind %q (supported: %v)", cfg.Backbone.Kind, SupportedKinds())
	}
	return builder(ctx, cfg)
}
