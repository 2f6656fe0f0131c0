package model

import (
	"context"
	"errors"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pkg/logger"
)

// LoadFromStore 从存储读取检查点并加载。
//
// key 不存在时模型保持降级状态，记录 warn 日志并返回 nil；
// require 为 true 时改为返回 MODEL_UNAVAILABLE。
// blob 损坏、不完整或形状不符时模型保持降级状态：require 为 false 只记录日志，为 true 返回加载错误。
// 融合宽度不一致（ErrFusedWidthMismatch）无论 require 与否都返回 CONFIGURATION。
func LoadFromStore(ctx context.Context, m *HybridModel, st core.Store, key string, require bool) error {
	log := logger.Ctx(ctx).With().Str("store", st.Name()).Str("key", key).Logger()

	blob, err := st.Get(ctx, key)
	if core.IsStoreNotFound(err) {
		if require {
			return core.WrapDomainError(core.ModuleModel, core.ErrorCodeModelUnavailable, err, "checkpoint %s not found", key)
		}
		log.Warn().Msg("checkpoint not found, serving degraded model with untrained fusion and numeric layers")
		return nil
	}
	if err != nil {
		if require {
			return core.WrapDomainError(core.ModuleModel, core.ErrorCodeModelUnavailable, err, "read checkpoint %s", key)
		}
		log.Warn().Err(err).Msg("checkpoint unreadable, serving degraded model")
		return nil
	}

	if err := m.LoadBlob(blob); err != nil {
		if require || errors.Is(err, ErrFusedWidthMismatch) {
			return err
		}
		log.Error().Err(err).Msg("checkpoint rejected, model stays degraded")
		return nil
	}
	log.Info().Str("version", m.Version()).Int("bytes", len(blob)).Msg("checkpoint loaded")
	return nil
}
