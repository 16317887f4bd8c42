package playback

import (
	"errors"
	"sync"

	"github.com/zsiec/livebuf/media"
)

// fakeSink completes appends only when the test says so.
type fakeSink struct {
	appended  [][]byte
	updating  bool
	overlaps  int
	ranges    media.Ranges
	removed   []media.Range
	appendErr error
	removeErr error
	events    chan SinkEvent
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan SinkEvent, 16)}
}

func (s *fakeSink) Append(data []byte) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	if s.updating {
		s.overlaps++
	}
	s.updating = true
	s.appended = append(s.appended, data)
	return nil
}

func (s *fakeSink) Updating() bool { return s.updating }
func (s *fakeSink) Buffered() media.Ranges { return s.ranges }
func (s *fakeSink) Events() <-chan SinkEvent { return s.events }

func (s *fakeSink) Remove(start, end float64) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, media.Range{Start: start, End: end})
	if len(s.ranges) > 0 && s.ranges[0].Start < end {
		s.ranges[0].Start = end
	}
	return nil
}

// finish clears the busy flag and publishes the given buffered range.
func (s *fakeSink) finish(start, end float64) {
	s.updating = false
	if end > start {
		s.ranges = media.Ranges{{Start: start, End: end}}
	} else {
		s.ranges = nil
	}
}

type fakeSurface struct {
	pos     float64
	played  bool
	seeks   []float64
	plays   int
	playErr error
}

func (f *fakeSurface) Position() float64 { return f.pos }
func (f *fakeSurface) Played() bool { return f.played }

func (f *fakeSurface) Seek(pos float64) {
	f.pos = pos
	f.seeks = append(f.seeks, pos)
}

func (f *fakeSurface) Play() error {
	f.plays++
	if f.playErr != nil {
		return f.playErr
	}
	f.played = true
	return nil
}

type recorder struct {
	mu       sync.Mutex
	statuses []string
	healths  []Health
	resets   []int
}

func (r *recorder) OnStatus(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) OnHealth(h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healths = append(r.healths, h)
}

func (r *recorder) OnReset(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, n)
}

func (r *recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

var errRefused = errors.New("refused")

func seg(seq uint64) media.Segment {
	return media.Segment{Seq: seq, Data: []byte{byte(seq)}}
}
