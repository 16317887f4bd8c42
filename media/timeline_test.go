package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangesFirstSkipsEmpty(t *testing.T) {
	t.Parallel()

	rs := Ranges{{Start: 2, End: 2}, {Start: 3, End: 5}, {Start: 7, End: 9}}
	r, ok := rs.First()
	assert.True(t, ok)
	assert.Equal(t, Range{Start: 3, End: 5}, r)

	_, ok = Ranges(nil).First()
	assert.False(t, ok)
}

func TestRangeContainsIsHalfOpen(t *testing.T) {
	t.Parallel()

	r := Range{Start: 1, End: 2}
	assert.True(t, r.Contains(1))
	assert.True(t, r.Contains(1.999))
	assert.False(t, r.Contains(2))
	assert.False(t, r.Contains(0.5))
	assert.InDelta(t, 1.0, r.Duration(), 1e-9)
	assert.Zero(t, Range{Start: 3, End: 1}.Duration())
}

func TestMerge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        []Range
		tolerance float64
		want      Ranges
	}{
		{name: "empty", in: nil, want: nil},
		{
			name: "contiguous joined",
			in:   []Range{{0, 1}, {1, 2}, {2, 3}},
			want: Ranges{{0, 3}},
		},
		{
			name: "unsorted input",
			in:   []Range{{2, 3}, {0, 1}, {1, 2}},
			want: Ranges{{0, 3}},
		},
		{
			name: "gap kept",
			in:   []Range{{0, 1}, {1.5, 2}},
			want: Ranges{{0, 1}, {1.5, 2}},
		},
		{
			name:      "gap within tolerance joined",
			in:        []Range{{0, 1}, {1.01, 2}},
			tolerance: 0.02,
			want:      Ranges{{0, 2}},
		},
		{
			name: "overlap and degenerate",
			in:   []Range{{0, 2}, {1, 1.5}, {4, 4}},
			want: Ranges{{0, 2}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Merge(tc.in, tc.tolerance)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFrameIsControl(t *testing.T) {
	t.Parallel()

	for _, ft := range []FrameType{FrameStatus, FrameControlList, FrameControlState} {
		assert.True(t, Frame{Type: ft}.IsControl(), ft.String())
	}
	assert.False(t, Frame{Type: FrameMedia}.IsControl())
	assert.Equal(t, "unknown", FrameType(9).String())
}
