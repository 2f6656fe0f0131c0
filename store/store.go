// Package store 提供 core.Store 的实现：内存、Redis、本地文件。
//
// 用途：
//   - 检查点 blob 的来源（file / memory / redis）
//   - 确定性预测结果的缓存（memory / redis，带 TTL）
//
// 接口定义在 core 包，此包只包含实现。
//
//	var st core.Store = store.NewMemoryStore()
package store

import (
	"fmt"

	"github.com/rushteam/ctrkit/core"
)

// Config 存储后端配置。
type Config struct {
	// Backend memory / redis / file
	Backend string `yaml:"backend"`

	// Dir file 后端的根目录
	Dir string `yaml:"dir"`

	Redis RedisConfig `yaml:"redis"`
}

// New 按配置创建存储。
func New(cfg Config) (core.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.Redis)
	case "file":
		return NewFileStore(cfg.Dir), nil
	default:
		return nil, core.NewConfigurationError(core.ModuleStore, "unknown store backend %q", cfg.Backend)
	}
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", core.ErrStoreNotFound, key)
}
