package playback

import (
	"fmt"
	"math"

	"github.com/zsiec/livebuf/media"
)

// Health is the buffered extent ahead of the playback position, derived
// from the sink's first buffered range. It is recomputed per event and
// never stored beyond the latest sample.
type Health struct {
	Range    media.Range `json:"range"`
	Position float64     `json:"position"`
	Buffered float64     `json:"buffered"`
}

// Frames converts the buffered duration to a frame count at fps.
func (h Health) Frames(fps float64) int {
	if fps <= 0 {
		return 0
	}
	return int(math.Round(h.Buffered * fps))
}

// Report formats the outbound telemetry line.
func (h Health) Report() string {
	return FormatReport(h.Buffered)
}

// FormatReport renders a buffered duration as "buffer <seconds>" with
// three decimals.
func FormatReport(buffered float64) string {
	return fmt.Sprintf("buffer %.3f", buffered)
}

// SampleHealth reads the sink's first buffered range and the clock
// position. It returns false when nothing is buffered.
func SampleHealth(sink Sink, clock Clock) (Health, bool) {
	r, ok := sink.Buffered().First()
	if !ok {
		return Health{}, false
	}
	pos := clock.Position()
	return Health{
		Range:    r,
		Position: pos,
		Buffered: r.End - pos,
	}, true
}
