package feast

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/pkg/conv"
)

// ChannelFeatureRefs 频道特征在 Feast 中的引用名（"<feature_view>:<feature>"）。
type ChannelFeatureRefs struct {
	EntityKey      string `yaml:"entity_key"`
	Niche          string `yaml:"niche"`
	Language       string `yaml:"language"`
	LogSubscribers string `yaml:"log_subscribers"`
	AvgViews30d    string `yaml:"avg_views_30d"`
	AvgCTR30d      string `yaml:"avg_ctr_30d"`
	UploadsPerWeek string `yaml:"uploads_per_week"`
	ChannelAgeDays string `yaml:"channel_age_days"`
	IsVerified     string `yaml:"is_verified"`
}

// DefaultChannelFeatureRefs 默认特征引用
func DefaultChannelFeatureRefs() ChannelFeatureRefs {
	return ChannelFeatureRefs{
		EntityKey:      "channel_id",
		Niche:          "channel_stats:niche_id",
		Language:       "channel_stats:language_id",
		LogSubscribers: "channel_stats:log_subscribers",
		AvgViews30d:    "channel_stats:avg_views_30d",
		AvgCTR30d:      "channel_stats:avg_ctr_30d",
		UploadsPerWeek: "channel_stats:uploads_per_week",
		ChannelAgeDays: "channel_stats:channel_age_days",
		IsVerified:     "channel_stats:is_verified",
	}
}

// continuous 连续特征引用，顺序即编码器输入顺序。
func (r ChannelFeatureRefs) continuous() [encoder.ChannelContinuousDim]string {
	return [encoder.ChannelContinuousDim]string{
		r.LogSubscribers, r.AvgViews30d, r.AvgCTR30d, r.UploadsPerWeek, r.ChannelAgeDays, r.IsVerified,
	}
}

func (r ChannelFeatureRefs) all() []string {
	c := r.continuous()
	return append([]string{r.Niche, r.Language}, c[:]...)
}

// ChannelFeatures 频道元数据编码器的输入。
type ChannelFeatures struct {
	NicheID    int
	LanguageID int
	Continuous [encoder.ChannelContinuousDim]float32
}

// ChannelSource 从 Feast 在线存储读取频道特征。
type ChannelSource struct {
	client  Client
	refs    ChannelFeatureRefs
	project string
}

func NewChannelSource(client Client, refs ChannelFeatureRefs, project string) *ChannelSource {
	return &ChannelSource{client: client, refs: refs, project: project}
}

// Fetch 读取单个频道的特征。任何特征缺失都返回 NOT_FOUND，不做默认值填充。
func (s *ChannelSource) Fetch(ctx context.Context, channelID string) (*ChannelFeatures, error) {
	if channelID == "" {
		return nil, core.NewValidationError(core.ModuleFeature, "channel id is required")
	}
	resp, err := s.client.GetOnlineFeatures(ctx, &GetOnlineFeaturesRequest{
		Features:   s.refs.all(),
		EntityRows: []map[string]any{{s.refs.EntityKey: channelID}},
		Project:    s.project,
	})
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeUnavailable, err, "fetch channel %s", channelID)
	}
	if len(resp.FeatureVectors) != 1 {
		return nil, core.NewDomainError(core.ModuleFeature, core.ErrorCodeNotFound, fmt.Sprintf("channel %s: no feature row", channelID))
	}
	values := resp.FeatureVectors[0].Values

	var missing []string
	number := func(ref string) float64 {
		f, ok := conv.ToFloat64(values[ref])
		if !ok || math.IsNaN(f) {
			missing = append(missing, ref)
		}
		return f
	}

	index := func(ref string) int {
		id, ok := conv.ToInt(values[ref])
		if !ok {
			missing = append(missing, ref)
		}
		return id
	}

	out := &ChannelFeatures{
		NicheID:    index(s.refs.Niche),
		LanguageID: index(s.refs.Language),
	}
	for i, ref := range s.refs.continuous() {
		out.Continuous[i] = float32(number(ref))
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, core.NewDomainError(core.ModuleFeature, core.ErrorCodeNotFound,
			fmt.Sprintf("channel %s: missing features %v", channelID, missing))
	}
	return out, nil
}
