package playback

import (
	"fmt"

	"github.com/zsiec/livebuf/media"
)

// SinkState tracks whether a segment is in flight to the sink.
type SinkState int

// Sink states. Halted is terminal: nothing is submitted after a sink
// fault or queue overrun.
const (
	StateIdle SinkState = iota
	StateAppending
	StateHalted
)

func (s SinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAppending:
		return "appending"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Scheduler drains the append queue into the sink, keeping at most one
// segment in flight. It is not safe for concurrent use; the owning
// session serializes every call.
type Scheduler struct {
	sink  Sink
	queue *Queue
	state SinkState

	inFlight  media.Segment
	submitted uint64
	bytes     int64
	fastPath  uint64
}

// NewScheduler creates a scheduler feeding sink from a queue bounded by
// queueLimit.
func NewScheduler(sink Sink, queueLimit int) *Scheduler {
	return &Scheduler{
		sink:  sink,
		queue: NewQueue(queueLimit),
	}
}

// Enqueue submits seg immediately when the sink is idle and nothing is
// waiting, otherwise queues it behind the pending segments.
func (s *Scheduler) Enqueue(seg media.Segment) error {
	if s.state == StateHalted {
		return ErrHalted
	}
	if s.state == StateIdle && s.queue.Len() == 0 && !s.sink.Updating() {
		s.fastPath++
		return s.submit(seg)
	}
	if err := s.queue.Push(seg); err != nil {
		s.state = StateHalted
		return fmt.Errorf("enqueue segment %d (%d queued): %w", seg.Seq, s.queue.Len(), err)
	}
	return nil
}

// Completed marks the in-flight append as finished and returns the sink
// to idle. The caller inspects buffer health before calling Drain.
func (s *Scheduler) Completed() {
	if s.state == StateAppending {
		s.state = StateIdle
	}
}

// Drain submits the oldest queued segment if the sink is idle.
func (s *Scheduler) Drain() error {
	if s.state != StateIdle || s.sink.Updating() {
		return nil
	}
	seg, ok := s.queue.Pop()
	if !ok {
		return nil
	}
	return s.submit(seg)
}

// Halt stops all further submissions.
func (s *Scheduler) Halt() { s.state = StateHalted }

// State returns the current sink state.
func (s *Scheduler) State() SinkState { return s.state }

// Queue exposes the pending segments for inspection.
func (s *Scheduler) Queue() *Queue { return s.queue }

// InFlight returns the sequence number of the last submitted segment.
func (s *Scheduler) InFlight() (uint64, bool) {
	return s.inFlight.Seq, s.state == StateAppending
}

// Submitted returns the count and total size of segments handed to the sink.
func (s *Scheduler) Submitted() (uint64, int64) { return s.submitted, s.bytes }

// FastPath returns how many segments bypassed the queue.
func (s *Scheduler) FastPath() uint64 { return s.fastPath }

func (s *Scheduler) submit(seg media.Segment) error {
	s.state = StateAppending
	if err := s.sink.Append(seg.Data); err != nil {
		s.state = StateHalted
		return &SinkError{Kind: EventError, Err: fmt.Errorf("append segment %d: %w", seg.Seq, err)}
	}
	s.inFlight = seg
	s.submitted++
	s.bytes += int64(seg.Len())
	return nil
}
