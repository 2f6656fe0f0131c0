package feast

import (
	"context"
	"fmt"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"
)

// GrpcClient 是基于官方 Feast Go SDK 的 gRPC 客户端实现。
type GrpcClient struct {
	client  *feastsdk.GrpcClient
	cfg     ClientConfig
	Project string
}

// NewGrpcClient 创建一个基于官方 SDK 的 Feast gRPC 客户端。
func NewGrpcClient(host string, port int, project string, opts ...ClientOption) (*GrpcClient, error) {
	if port == 0 {
		port = 6565 // 默认 gRPC 端口
	}
	cfg := ClientConfig{Host: host, Port: port, Project: project, Timeout: 3 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	var client *feastsdk.GrpcClient
	var err error
	if cfg.Token != "" {
		client, err = feastsdk.NewSecureGrpcClient(host, port, feastsdk.SecurityConfig{
			Credential: feastsdk.NewStaticCredential(cfg.Token),
		})
	} else {
		client, err = feastsdk.NewGrpcClient(host, port)
	}
	if err != nil {
		return nil, fmt.Errorf("create feast grpc client %s:%d: %w", host, port, err)
	}
	return &GrpcClient{client: client, cfg: cfg, Project: project}, nil
}

// GetOnlineFeatures 获取在线特征（实现 Client 接口）
func (c *GrpcClient) GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error) {
	if len(req.Features) == 0 {
		return nil, fmt.Errorf("features are required")
	}
	if len(req.EntityRows) == 0 {
		return nil, fmt.Errorf("entity rows are required")
	}
	project := req.Project
	if project == "" {
		project = c.Project
	}
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}

	entityRows := make([]feastsdk.Row, len(req.EntityRows))
	for i, row := range req.EntityRows {
		entityRow := make(feastsdk.Row, len(row))
		for k, v := range row {
			entityRow[k] = toSDKValue(v)
		}
		entityRows[i] = entityRow
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	sdkResp, err := c.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: req.Features,
		Entities: entityRows,
		Project:  project,
	})
	if err != nil {
		return nil, fmt.Errorf("feast get online features: %w", err)
	}

	rows := sdkResp.Rows()
	if len(rows) != len(req.EntityRows) {
		return nil, fmt.Errorf("response row count mismatch: expected %d, got %d", len(req.EntityRows), len(rows))
	}
	vectors := make([]FeatureVector, len(rows))
	for i, row := range rows {
		values := make(map[string]any, len(req.Features))
		for _, name := range req.Features {
			if v := fromSDKValue(row[name]); v != nil {
				values[name] = v
			}
		}
		vectors[i] = FeatureVector{Values: values, EntityRow: req.EntityRows[i]}
	}
	return &GetOnlineFeaturesResponse{FeatureVectors: vectors}, nil
}

// Close 官方 SDK 没有显式的 Close，连接由 gRPC 库管理。
func (c *GrpcClient) Close() error {
	c.client = nil
	return nil
}

func toSDKValue(v any) *types.Value {
	switch val := v.(type) {
	case string:
		return feastsdk.StrVal(val)
	case int:
		return feastsdk.Int64Val(int64(val))
	case int64:
		return feastsdk.Int64Val(val)
	case int32:
		return feastsdk.Int64Val(int64(val))
	case float64:
		return feastsdk.DoubleVal(val)
	case float32:
		return feastsdk.FloatVal(val)
	case bool:
		return feastsdk.BoolVal(val)
	case []byte:
		return feastsdk.BytesVal(val)
	default:
		return feastsdk.StrVal(fmt.Sprintf("%v", val))
	}
}

// fromSDKValue 数值与布尔统一转换为 float64，字符串原样返回，空值返回 nil。
func fromSDKValue(v *types.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.GetVal().(type) {
	case *types.Value_Int32Val:
		return float64(val.Int32Val)
	case *types.Value_Int64Val:
		return float64(val.Int64Val)
	case *types.Value_FloatVal:
		return float64(val.FloatVal)
	case *types.Value_DoubleVal:
		return val.DoubleVal
	case *types.Value_BoolVal:
		if val.BoolVal {
			return float64(1)
		}
		return float64(0)
	case *types.Value_StringVal:
		return val.StringVal
	case *types.Value_BytesVal:
		return string(val.BytesVal)
	default:
		return nil
	}
}

var _ Client = (*GrpcClient)(nil)
