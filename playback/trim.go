package playback

import (
	"math"

	"github.com/zsiec/livebuf/media"
)

// Trimmer bounds the retained span of buffered media on sessions with no
// natural end. It never evicts media at or after the playback position.
type Trimmer struct {
	ceiling float64

	trims   int
	trimmed float64
}

// NewTrimmer creates a trimmer with the retention ceiling from cfg.
func NewTrimmer(cfg Config) *Trimmer {
	return &Trimmer{ceiling: seconds(cfg.RetentionCeiling)}
}

// Plan returns the range to evict when the retained span exceeds the
// ceiling: everything older than end-ceiling, cut short at the playback
// position.
func (t *Trimmer) Plan(h Health) (media.Range, bool) {
	if t.ceiling <= 0 || h.Range.Duration() <= t.ceiling {
		return media.Range{}, false
	}
	cut := math.Min(h.Range.End-t.ceiling, h.Position)
	if cut <= h.Range.Start {
		return media.Range{}, false
	}
	return media.Range{Start: h.Range.Start, End: cut}, true
}

// Apply evicts the planned range from sink.
func (t *Trimmer) Apply(sink Sink, h Health) (media.Range, bool, error) {
	r, ok := t.Plan(h)
	if !ok {
		return media.Range{}, false, nil
	}
	if err := sink.Remove(r.Start, r.End); err != nil {
		return r, false, err
	}
	t.trims++
	t.trimmed += r.Duration()
	return r, true, nil
}

// Trims returns how many evictions have been applied.
func (t *Trimmer) Trims() int { return t.trims }

// Trimmed returns the total evicted duration in seconds.
func (t *Trimmer) Trimmed() float64 { return t.trimmed }
