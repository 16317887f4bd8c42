package media

import "sort"

// Range is a half-open interval [Start, End) on the playback clock, in
// seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End-Start, or zero for an inverted range.
func (r Range) Duration() float64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range holds no playable media.
func (r Range) Empty() bool { return r.End <= r.Start }

// Contains reports whether t falls inside [Start, End).
func (r Range) Contains(t float64) bool { return t >= r.Start && t < r.End }

// Ranges is the buffered timeline reported by a sink, ordered by Start.
type Ranges []Range

// First returns the first non-empty range. Only one contiguous range is
// considered relevant; later disjoint ranges are ignored.
func (rs Ranges) First() (Range, bool) {
	for _, r := range rs {
		if !r.Empty() {
			return r, true
		}
	}
	return Range{}, false
}

// End returns the end of the last range, or zero when nothing is buffered.
func (rs Ranges) End() float64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].End
}

// Find returns the range containing t.
func (rs Ranges) Find(t float64) (Range, bool) {
	for _, r := range rs {
		if r.Contains(t) {
			return r, true
		}
	}
	return Range{}, false
}

// Merge sorts the ranges and joins those whose gap is at most tolerance.
func Merge(in []Range, tolerance float64) Ranges {
	if len(in) == 0 {
		return nil
	}
	rs := make([]Range, 0, len(in))
	for _, r := range in {
		if !r.Empty() {
			rs = append(rs, r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })

	out := make(Ranges, 0, len(rs))
	for _, r := range rs {
		if n := len(out); n > 0 && r.Start <= out[n-1].End+tolerance {
			if r.End > out[n-1].End {
				out[n-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
