package playback

import "github.com/zsiec/livebuf/media"

// Queue is the FIFO of segments waiting for the sink. Segments leave only
// through Pop, in insertion order.
type Queue struct {
	items []media.Segment
	head  int
	limit int
	peak  int
}

// NewQueue creates a queue holding at most limit segments; zero means
// unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends seg. It fails with ErrQueueOverrun when the queue is full.
func (q *Queue) Push(seg media.Segment) error {
	if q.limit > 0 && q.Len() >= q.limit {
		return ErrQueueOverrun
	}
	q.items = append(q.items, seg)
	if n := q.Len(); n > q.peak {
		q.peak = n
	}
	return nil
}

// Pop removes and returns the oldest segment.
func (q *Queue) Pop() (media.Segment, bool) {
	if q.Len() == 0 {
		return media.Segment{}, false
	}
	seg := q.items[q.head]
	q.items[q.head] = media.Segment{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return seg, true
}

// Len returns the number of queued segments.
func (q *Queue) Len() int { return len(q.items) - q.head }

// Peak returns the highest depth the queue has reached.
func (q *Queue) Peak() int { return q.peak }

// Bytes returns the total payload size of the queued segments.
func (q *Queue) Bytes() int {
	n := 0
	for _, seg := range q.items[q.head:] {
		n += seg.Len()
	}
	return n
}
