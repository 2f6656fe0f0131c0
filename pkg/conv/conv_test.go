package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{3, 3, true},
		{int64(4), 4, true},
		{int32(5), 5, true},
		{true, 1, true},
		{false, 0, true},
		{"6", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat64(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{7, 7, true},
		{int64(8), 8, true},
		{int32(9), 9, true},
		{3.9, 3, true},
		{float32(-1.5), -1, true},
		{"1", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToInt(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
