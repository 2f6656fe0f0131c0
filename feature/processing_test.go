package feature

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
)

func TestParseVideoLength(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"hours minutes seconds", "01:02:03", 3723},
		{"zero", "00:00:00", 0},
		{"max two digit fields", "99:59:59", 99*3600 + 59*60 + 59},
		{"garbage falls back to zero", "garbage", 0},
		{"single digit fields rejected", "1:02:03", 0},
		{"trailing text rejected", "01:02:03 extra", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVideoLength(tt.input))
		})
	}
}

func TestParseVideoLengthStrict(t *testing.T) {
	v, err := ParseVideoLengthStrict("00:10:00")
	require.NoError(t, err)
	assert.Equal(t, 600.0, v)

	_, err = ParseVideoLengthStrict("ten minutes")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestNormalize_Endpoints(t *testing.T) {
	for _, logScale := range []bool{false, true} {
		assert.InDelta(t, 0, Normalize(0, 0, 1000, logScale), 1e-9)
		assert.InDelta(t, 1, Normalize(1000, 0, 1000, logScale), 1e-6)
		assert.InDelta(t, 0, Normalize(5, 5, 50, logScale), 1e-9)
		assert.InDelta(t, 1, Normalize(50, 5, 50, logScale), 1e-6)
	}
}

func TestNormalize_Monotonic(t *testing.T) {
	for _, logScale := range []bool{false, true} {
		prev := math.Inf(-1)
		for v := 0.0; v <= 5000; v += 37 {
			got := Normalize(v, 0, 1000, logScale)
			assert.Greater(t, got, prev, "value %v logScale %v", v, logScale)
			prev = got
		}
	}
}

func TestNormalize_NotClamped(t *testing.T) {
	assert.Greater(t, Normalize(2000, 0, 1000, false), 1.0)
	assert.Less(t, Normalize(0, 1, 100, false), 0.0)
	assert.Greater(t, Normalize(1e12, 0, 1e6, true), 1.0)
}

func TestBounds_Validate(t *testing.T) {
	require.NoError(t, DefaultBounds().Validate())

	b := DefaultBounds()
	b.TotalVideos = Bound{Min: 10, Max: 10}
	err := b.Validate()
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))

	b = DefaultBounds()
	b.Subscribers = Bound{Min: -2, Max: 10, LogScale: true}
	assert.Error(t, b.Validate())
}

func TestPreprocessor_NumericFeatures(t *testing.T) {
	p := NewPreprocessor(DefaultBounds(), false)
	c := &core.RawCandidate{
		Title:              "héllo", // 5 个字符，6 个字节
		VideoLength:        "00:10:00",
		ChannelSubscribers: 453_000_000,
		TotalChannelViews:  0,
		TotalVideos:        645_000,
		ChannelAgeYears:    10,
	}
	v, err := p.NumericFeatures(context.Background(), c)
	require.NoError(t, err)

	assert.InDelta(t, Normalize(600, 0, 134675, true), v[IdxVideoLength], 1e-6)
	assert.InDelta(t, (5.0-1)/99, v[IdxTitleLength], 1e-6)
	assert.InDelta(t, 1, v[IdxSubscribers], 1e-6)
	assert.InDelta(t, 0, v[IdxTotalViews], 1e-6)
	assert.InDelta(t, 1, v[IdxTotalVideos], 1e-6)
	assert.InDelta(t, 0.5, v[IdxChannelAge], 1e-6)
}

func TestPreprocessor_VideoLengthPolicy(t *testing.T) {
	c := &core.RawCandidate{Title: "t", VideoLength: "bogus"}

	permissive := NewPreprocessor(DefaultBounds(), false)
	v, err := permissive.NumericFeatures(context.Background(), c)
	require.NoError(t, err)
	assert.InDelta(t, 0, v[IdxVideoLength], 1e-9)

	strict := NewPreprocessor(DefaultBounds(), true)
	_, err = strict.NumericFeatures(context.Background(), c)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}
