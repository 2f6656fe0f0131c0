package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
)

func candidate() *core.RawCandidate {
	return &core.RawCandidate{
		Title:              "Ten minute pasta",
		Thumbnail:          make([]byte, 1024),
		VideoLength:        "00:10:00",
		ChannelSubscribers: 5000,
		TotalChannelViews:  100000,
		TotalVideos:        40,
		ChannelAgeYears:    3,
		UploadDayOfWeek:    2,
		UploadHour:         9,
	}
}

func TestRuleSet_Admit(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		mutate  func(c *core.RawCandidate)
		wantErr bool
	}{
		{name: "title length", expr: "candidate.title_length <= 100"},
		{name: "thumbnail size", expr: "candidate.thumbnail_bytes < 2048"},
		{name: "thumbnail too large", expr: "candidate.thumbnail_bytes < 2048",
			mutate: func(c *core.RawCandidate) { c.Thumbnail = make([]byte, 4096) }, wantErr: true},
		{name: "string functions", expr: `!candidate.title.contains("http")`},
		{name: "link in title", expr: `!candidate.title.contains("http")`,
			mutate: func(c *core.RawCandidate) { c.Title = "see http://x" }, wantErr: true},
		{name: "cross field", expr: "candidate.subscribers == 0 || candidate.total_videos > 0"},
		{name: "hour window", expr: "candidate.hour >= 6 && candidate.day < 5"},
		{name: "video length format", expr: `candidate.video_length.matches("^[0-9]{2}:[0-9]{2}:[0-9]{2}$")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := Compile([]Rule{{Name: tt.name, Expr: tt.expr}})
			require.NoError(t, err)
			c := candidate()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			err = rs.Admit(c)
			if tt.wantErr {
				assert.True(t, core.IsValidation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRuleSet_FirstFailureWins(t *testing.T) {
	rs, err := Compile([]Rule{
		{Name: "ok", Expr: "true"},
		{Name: "subs", Expr: "candidate.subscribers > 10000", Message: "channel too small"},
		{Expr: "false"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())

	err = rs.Admit(candidate())
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Contains(t, err.Error(), "channel too small")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax", "candidate.title =="},
		{"non bool", "1 + 2"},
		{"string", `"yes"`},
		{"unknown variable", "item.score > 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Rule{{Expr: tt.expr}})
			assert.True(t, core.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestRuleSet_Empty(t *testing.T) {
	var rs *RuleSet
	assert.NoError(t, rs.Admit(candidate()))

	rs, err := Compile(nil)
	require.NoError(t, err)
	assert.NoError(t, rs.Admit(candidate()))
}
