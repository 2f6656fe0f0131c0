// Package ctrkit 预测候选视频的点击率档位（CTR tier）。
//
// 设计要点：
// - 多模态融合：缩略图、标题、发布时间、数值统计四路编码器互相独立，按固定顺序拼接后进入融合头
// - 只做推理：参数从检查点加载后只读，骨干网络由外部注入（本地确定性实现或远程模型服务）
// - 错误分级：校验、图像、配置、模型不可用、推理、越界、超时各有独立错误码（见 core.DomainError）
package ctrkit

import (
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/service"
)

// 轻量 facade：便于直接 import "ctrkit" 使用核心类型。
type Candidate = core.RawCandidate
type PredictionResult = core.PredictionResult
type InferenceService = service.InferenceService
type ServiceOption = service.Option

// NewService 等同于 service.New。
var NewService = service.New
