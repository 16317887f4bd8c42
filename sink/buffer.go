package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/livebuf/media"
	"github.com/zsiec/livebuf/playback"
)

// Sentinel errors returned by Buffer and Element.
var (
	ErrBusy   = errors.New("sink: append already in progress")
	ErrClosed = errors.New("sink: closed")
	ErrNoData = errors.New("sink: nothing buffered")
)

// gapTolerance joins fragments whose timestamps differ by rounding only.
const gapTolerance = 0.001

// Fragment is one appended media segment positioned on the playback clock.
type Fragment struct {
	Seq   uint64
	Range media.Range
	Data  []byte
}

// BufferStats is a point-in-time snapshot of a Buffer.
type BufferStats struct {
	Appends      int64   `json:"appends"`
	Bytes        int64   `json:"bytes"`
	Fragments    int     `json:"fragments"`
	Removes      int64   `json:"removes"`
	RemovedBytes int64   `json:"removedBytes"`
	Buffered     float64 `json:"buffered"`
	Errors       int64   `json:"errors"`
}

// Buffer accepts one append at a time and completes it asynchronously,
// reporting the result on its event channel. It implements playback.Sink.
type Buffer struct {
	log    *slog.Logger
	timing Timing
	events chan playback.SinkEvent
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	init      []byte
	fragments []Fragment
	seq       uint64
	updating  bool
	closed    bool

	appends      atomic.Int64
	bytes        atomic.Int64
	removes      atomic.Int64
	removedBytes atomic.Int64
	failures     atomic.Int64
}

// NewBuffer creates a buffer that positions segments with timing.
func NewBuffer(timing Timing, log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{
		log:    log.With("component", "sink"),
		timing: timing,
		events: make(chan playback.SinkEvent, 4),
		done:   make(chan struct{}),
	}
}

// Append starts an asynchronous append of data. Completion or failure is
// reported on Events.
func (b *Buffer) Append(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.updating {
		return ErrBusy
	}
	b.updating = true
	b.wg.Add(1)
	go b.process(data)
	return nil
}

func (b *Buffer) process(data []byte) {
	defer b.wg.Done()

	r, ok, err := b.timing.Span(data)

	b.mu.Lock()
	b.updating = false
	if err == nil {
		b.appends.Add(1)
		b.bytes.Add(int64(len(data)))
		if ok {
			b.seq++
			b.fragments = append(b.fragments, Fragment{Seq: b.seq, Range: r, Data: data})
		} else if len(b.fragments) == 0 && b.init == nil {
			b.init = data
		}
	}
	b.mu.Unlock()

	ev := playback.SinkEvent{Kind: playback.EventUpdateEnd}
	if err != nil {
		b.failures.Add(1)
		b.log.Warn("append failed", "bytes", len(data), "error", err)
		ev = playback.SinkEvent{Kind: playback.EventError, Err: err}
	}
	b.emit(ev)
}

func (b *Buffer) emit(ev playback.SinkEvent) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// Updating reports whether an append is in flight.
func (b *Buffer) Updating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updating
}

// Buffered returns the merged buffered ranges.
func (b *Buffer) Buffered() media.Ranges {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := make([]media.Range, len(b.fragments))
	for i, f := range b.fragments {
		rs[i] = f.Range
	}
	return media.Merge(rs, gapTolerance)
}

// Remove evicts media in [start, end). Fragments that straddle either
// bound are clipped to the part outside the window; one that spans the
// whole window is split in two sharing its data, so it renders once.
func (b *Buffer) Remove(start, end float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.updating {
		return ErrBusy
	}
	if end <= start {
		return fmt.Errorf("sink: invalid remove range [%g, %g)", start, end)
	}

	kept := make([]Fragment, 0, len(b.fragments)+1)
	for _, f := range b.fragments {
		switch {
		case f.Range.End <= start || f.Range.Start >= end:
			kept = append(kept, f)
		case f.Range.Start >= start && f.Range.End <= end:
			b.removedBytes.Add(int64(len(f.Data)))
		case f.Range.Start >= start:
			f.Range.Start = end
			kept = append(kept, f)
		default:
			head := f
			head.Range.End = start
			kept = append(kept, head)
			if f.Range.End > end {
				f.Range.Start = end
				kept = append(kept, f)
			}
		}
	}
	b.fragments = kept
	b.removes.Add(1)
	return nil
}

// Events delivers one event per append, plus any abort.
func (b *Buffer) Events() <-chan playback.SinkEvent { return b.events }

// Abort reports an external abort to the session consuming this buffer.
func (b *Buffer) Abort(cause error) {
	b.emit(playback.SinkEvent{Kind: playback.EventAbort, Err: cause})
}

// FragmentAt returns the fragment covering t.
func (b *Buffer) FragmentAt(t float64) (Fragment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.fragments {
		if f.Range.Contains(t) {
			return f, true
		}
	}
	return Fragment{}, false
}

// Init returns the init segment, if one was appended.
func (b *Buffer) Init() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.init
}

// Stats returns a snapshot of the buffer's counters.
func (b *Buffer) Stats() BufferStats {
	st := BufferStats{
		Appends:      b.appends.Load(),
		Bytes:        b.bytes.Load(),
		Removes:      b.removes.Load(),
		RemovedBytes: b.removedBytes.Load(),
		Errors:       b.failures.Load(),
	}
	rs := b.Buffered()
	b.mu.Lock()
	st.Fragments = len(b.fragments)
	b.mu.Unlock()
	for _, r := range rs {
		st.Buffered += r.Duration()
	}
	return st
}

// Close stops accepting appends and waits for the in-flight append to
// finish. Pending events are dropped.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
