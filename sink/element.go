package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ElementStats is a point-in-time snapshot of an Element.
type ElementStats struct {
	Position      float64 `json:"position"`
	Playing       bool    `json:"playing"`
	Played        bool    `json:"played"`
	Stalls        int     `json:"stalls"`
	Seeks         int     `json:"seeks"`
	Rendered      int     `json:"rendered"`
	RenderedBytes int64   `json:"renderedBytes"`
}

// Element is a playback surface over a Buffer. Its clock advances with
// wall time while playing and stalls at the end of the buffered range it
// is in. Played fragments are written to an output in clock order.
type Element struct {
	log *slog.Logger
	buf *Buffer
	out io.Writer
	now func() time.Time

	mu      sync.Mutex
	pos     float64
	anchor  time.Time
	playing bool
	played  bool
	stalled bool
	stalls  int
	seeks   int

	lastSeq       uint64
	wroteInit     bool
	rendered      int
	renderedBytes int64
}

// NewElement creates a paused element at position zero. A nil out
// discards rendered media.
func NewElement(buf *Buffer, out io.Writer, log *slog.Logger) *Element {
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	return &Element{
		log: log.With("component", "element"),
		buf: buf,
		out: out,
		now: time.Now,
	}
}

// Position returns the current playback position in seconds.
func (e *Element) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance()
	return e.pos
}

// Played reports whether the clock has advanced through any media.
func (e *Element) Played() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance()
	return e.played
}

// Seek moves the clock to pos.
func (e *Element) Seek(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = pos
	e.anchor = e.now()
	e.stalled = false
	e.seeks++
}

// Play starts the clock. It fails with ErrNoData while nothing is
// buffered.
func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buf.Buffered().First(); !ok {
		return ErrNoData
	}
	if !e.playing {
		e.playing = true
		e.anchor = e.now()
	}
	return nil
}

// Pause stops the clock at its current position.
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance()
	e.playing = false
}

// advance moves the clock forward by the wall time since the last anchor,
// clamped to the end of the buffered range containing it. Callers hold mu.
func (e *Element) advance() {
	if !e.playing {
		return
	}
	now := e.now()
	next := e.pos + now.Sub(e.anchor).Seconds()
	e.anchor = now

	edge := e.pos
	if r, ok := e.buf.Buffered().Find(e.pos); ok {
		edge = r.End
	}
	if next >= edge {
		if !e.stalled && next > e.pos {
			e.stalls++
			e.log.Debug("playback stalled", "position", edge)
		}
		e.stalled = true
		next = edge
	} else {
		e.stalled = false
	}
	if next > e.pos {
		e.played = true
		e.pos = next
	}
}

// Run renders played media every interval until ctx is cancelled or the
// output fails.
func (e *Element) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.render(); err != nil {
				return err
			}
		}
	}
}

// render writes the fragment under the playback position if it has not
// been written yet. The init segment precedes the first fragment.
func (e *Element) render() error {
	pos := e.Position()
	f, ok := e.buf.FragmentAt(pos)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !ok || f.Seq <= e.lastSeq {
		return nil
	}
	if !e.wroteInit {
		if head := e.buf.Init(); len(head) > 0 {
			if _, err := e.out.Write(head); err != nil {
				return fmt.Errorf("sink: render init: %w", err)
			}
			e.renderedBytes += int64(len(head))
		}
		e.wroteInit = true
	}
	if _, err := e.out.Write(f.Data); err != nil {
		return fmt.Errorf("sink: render fragment %d: %w", f.Seq, err)
	}
	e.lastSeq = f.Seq
	e.rendered++
	e.renderedBytes += int64(len(f.Data))
	return nil
}

// Stats returns a snapshot of the element's clock and render counters.
func (e *Element) Stats() ElementStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance()
	return ElementStats{
		Position:      e.pos,
		Playing:       e.playing,
		Played:        e.played,
		Stalls:        e.stalls,
		Seeks:         e.seeks,
		Rendered:      e.rendered,
		RenderedBytes: e.renderedBytes,
	}
}
