// Package feast 通过 Feast Feature Store 获取频道的在线特征。
//
// Feast 在线存储保存按频道聚合的统计（订阅数、近 30 天播放与点击率、更新频率等），
// ChannelSource 把它们转换为频道元数据编码器的输入。
//
// 参考：https://github.com/feast-dev/feast
package feast

import (
	"context"
	"time"
)

// Client 是 Feast Feature Store 的在线特征客户端接口。
type Client interface {
	// GetOnlineFeatures 获取在线特征（用于实时预测）
	//
	// 参数：
	//   - features: 特征名称列表，例如 ["channel_stats:avg_ctr_30d"]
	//   - entityRows: 实体行，例如 [{"channel_id": "UCxxxx"}]
	GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error)

	// Close 关闭客户端连接
	Close() error
}

// GetOnlineFeaturesRequest 获取在线特征请求
type GetOnlineFeaturesRequest struct {
	// Features 特征名称列表
	Features []string

	// EntityRows 实体行
	EntityRows []map[string]any

	// Project 项目名称（可选）
	Project string
}

// GetOnlineFeaturesResponse 获取在线特征响应
type GetOnlineFeaturesResponse struct {
	// FeatureVectors 特征向量列表，每个元素对应一个实体行
	FeatureVectors []FeatureVector
}

// FeatureVector 特征向量
type FeatureVector struct {
	// Values 特征值，key 为特征名称；数值统一为 float64
	Values map[string]any

	// EntityRow 对应的实体行
	EntityRow map[string]any
}

// ClientOption Feast 客户端配置选项
type ClientOption func(*ClientConfig)

// ClientConfig Feast 客户端配置
type ClientConfig struct {
	// Host / Port gRPC 服务地址，默认端口 6565
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Project 项目名称
	Project string `yaml:"project"`

	// Timeout 单次请求超时
	Timeout time.Duration `yaml:"timeout"`

	// Token 静态 Token 认证（可选）
	Token string `yaml:"token"`
}

// WithTimeout 设置超时时间
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithStaticToken 设置静态 Token 认证
func WithStaticToken(token string) ClientOption {
	return func(c *ClientConfig) {
		c.Token = token
	}
}
