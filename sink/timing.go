// Package sink provides a reference media sink for playback sessions: a
// one-append-at-a-time fragment buffer and a wall-clock playback element
// that consumes it.
package sink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/zsiec/livebuf/media"
)

// ErrNoInit is returned for a media fragment that arrives before the
// initialization segment describing its tracks.
var ErrNoInit = errors.New("sink: fragment before init segment")

// Timing maps an appended segment onto the playback clock. Segments that
// carry no media (an init segment) report ok=false.
type Timing interface {
	Span(data []byte) (r media.Range, ok bool, err error)
}

// FixedTiming treats every segment as the same duration, laid end to end
// from zero. It suits raw frame streams with no timestamps.
type FixedTiming struct {
	mu   sync.Mutex
	step float64
	next float64
}

// NewFixedTiming creates a timing with a fixed per-segment duration.
func NewFixedTiming(d time.Duration) *FixedTiming {
	return &FixedTiming{step: d.Seconds()}
}

func (f *FixedTiming) Span(data []byte) (media.Range, bool, error) {
	if len(data) == 0 {
		return media.Range{}, false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := media.Range{Start: f.next, End: f.next + f.step}
	f.next = r.End
	return r, true, nil
}

// FMP4Timing reads fragment timing from fragmented MP4: the init segment
// supplies per-track timescales, each moof supplies base decode times and
// sample durations.
type FMP4Timing struct {
	mu         sync.Mutex
	timescales map[int]uint32
}

// NewFMP4Timing creates a timing that expects an init segment first.
func NewFMP4Timing() *FMP4Timing {
	return &FMP4Timing{}
}

func (f *FMP4Timing) Span(data []byte) (media.Range, bool, error) {
	head, frag, err := splitInit(data)
	if err != nil {
		return media.Range{}, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(head) > 0 {
		var in fmp4.Init
		if err := in.Unmarshal(bytes.NewReader(head)); err != nil {
			return media.Range{}, false, fmt.Errorf("sink: parse init segment: %w", err)
		}
		f.timescales = make(map[int]uint32, len(in.Tracks))
		for _, t := range in.Tracks {
			f.timescales[t.ID] = t.TimeScale
		}
	}
	if len(frag) == 0 {
		return media.Range{}, false, nil
	}
	if f.timescales == nil {
		return media.Range{}, false, ErrNoInit
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(frag); err != nil {
		return media.Range{}, false, fmt.Errorf("sink: parse fragment: %w", err)
	}

	start, end := math.Inf(1), math.Inf(-1)
	for _, part := range parts {
		for _, track := range part.Tracks {
			ts, ok := f.timescales[track.ID]
			if !ok || ts == 0 {
				continue
			}
			var dur uint64
			for _, s := range track.Samples {
				dur += uint64(s.Duration)
			}
			s := float64(track.BaseTime) / float64(ts)
			e := float64(track.BaseTime+dur) / float64(ts)
			start = math.Min(start, s)
			end = math.Max(end, e)
		}
	}
	if math.IsInf(start, 1) || end <= start {
		return media.Range{}, false, nil
	}
	return media.Range{Start: start, End: end}, true, nil
}

// splitInit separates leading ftyp/moov boxes from the rest of the
// segment by walking top-level box headers.
func splitInit(data []byte) (head, frag []byte, err error) {
	off := 0
	for off < len(data) {
		if len(data)-off < 8 {
			return nil, nil, fmt.Errorf("sink: truncated box header at offset %d", off)
		}
		size := int(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		if size == 1 {
			if len(data)-off < 16 {
				return nil, nil, fmt.Errorf("sink: truncated box header at offset %d", off)
			}
			size = int(binary.BigEndian.Uint64(data[off+8:]))
		} else if size == 0 {
			size = len(data) - off
		}
		if size < 8 || off+size > len(data) {
			return nil, nil, fmt.Errorf("sink: box %q at offset %d overruns segment", typ, off)
		}
		if typ != "ftyp" && typ != "moov" {
			break
		}
		off += size
	}
	return data[:off], data[off:], nil
}
