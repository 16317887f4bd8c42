package playback

import (
	"errors"
	"log/slog"

	"github.com/zsiec/livebuf/media"
)

// Controller is the buffer controller of one playback session. It owns
// the append queue, the sink state and the resync state, and holds
// handles to the sink and the surface's clock. Every method must be
// called from a single goroutine; Session provides that loop.
type Controller struct {
	log     *slog.Logger
	cfg     Config
	sink    Sink
	surface Surface
	obs     Observer

	sched  *Scheduler
	resync *Resync
	trim   *Trimmer

	health    Health
	hasHealth bool
	wantPlay  bool
	playing   bool
	status    string
	err       error
}

// NewController wires a controller to sink and surface. A nil observer
// discards state changes; a nil logger uses slog.Default().
func NewController(cfg Config, sink Sink, surface Surface, obs Observer, log *slog.Logger) *Controller {
	if obs == nil {
		obs = nopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:     log,
		cfg:     cfg,
		sink:    sink,
		surface: surface,
		obs:     obs,
		sched:   NewScheduler(sink, cfg.QueueLimit),
		resync:  NewResync(cfg),
		trim:    NewTrimmer(cfg),
	}
}

// Enqueue hands a media segment to the scheduler. Any error is terminal
// for the session.
func (c *Controller) Enqueue(seg media.Segment) error {
	if c.err != nil {
		return c.err
	}
	if err := c.sched.Enqueue(seg); err != nil {
		return c.fail(StatusError, err)
	}
	return nil
}

// HandleSinkEvent processes one sink notification. On completion it
// samples buffer health, runs cold-start alignment, drift correction and
// trimming in that order, then submits the next queued segment.
func (c *Controller) HandleSinkEvent(ev SinkEvent) error {
	if c.err != nil {
		return c.err
	}
	switch ev.Kind {
	case EventAbort:
		c.log.Error("sink aborted", "error", ev.Err)
		return c.fail(StatusAbort, &SinkError{Kind: EventAbort, Err: ev.Err})
	case EventError:
		c.log.Error("sink error", "error", ev.Err)
		return c.fail(StatusError, &SinkError{Kind: EventError, Err: ev.Err})
	}

	c.sched.Completed()
	if h, ok := SampleHealth(c.sink, c.surface); ok {
		c.adjust(h)
	}
	if err := c.sched.Drain(); err != nil {
		return c.fail(StatusError, err)
	}
	return nil
}

func (c *Controller) adjust(h Health) {
	if c.resync.Align(h, c.surface) {
		c.log.Debug("cold start aligned", "position", h.Range.Start)
		// Correction must see the buffered duration from the new position.
		if cur, ok := SampleHealth(c.sink, c.surface); ok {
			h = cur
		}
	}
	if c.resync.State() == Started && !c.wantPlay {
		c.wantPlay = true
	}

	if target, ok := c.resync.Correct(h, c.surface, c.playing); ok {
		c.log.Debug("drift corrected",
			"from", h.Position,
			"to", target,
			"buffered", h.Buffered,
			"resets", c.resync.Resets())
		c.obs.OnReset(c.resync.Resets())
		c.playing = false
	}
	if c.wantPlay && !c.playing {
		c.play()
	}

	if !c.sink.Updating() {
		if cur, ok := SampleHealth(c.sink, c.surface); ok {
			h = cur
		}
		r, trimmed, err := c.trim.Apply(c.sink, h)
		switch {
		case err != nil:
			c.log.Warn("trim failed", "start", r.Start, "end", r.End, "error", err)
		case trimmed:
			c.log.Debug("trimmed", "start", r.Start, "end", r.End)
		}
	}

	if cur, ok := SampleHealth(c.sink, c.surface); ok {
		h = cur
	}
	c.health = h
	c.hasHealth = true
	c.obs.OnHealth(h)
}

func (c *Controller) play() {
	if err := c.surface.Play(); err != nil {
		c.log.Warn("play failed", "error", err)
		c.setStatus(StatusPlayFailed)
		return
	}
	c.playing = true
	c.setStatus(StatusPlaying)
}

func (c *Controller) setStatus(s string) {
	if s == c.status {
		return
	}
	c.status = s
	c.obs.OnStatus(s)
}

func (c *Controller) fail(status string, err error) error {
	if c.err != nil {
		return c.err
	}
	c.sched.Halt()
	c.err = err
	c.setStatus(status)
	return err
}

// Err returns the error that terminated the session, if any.
func (c *Controller) Err() error { return c.err }

// Halted reports whether the controller has stopped accepting segments.
func (c *Controller) Halted() bool { return c.sched.State() == StateHalted }

// Status returns the latest user-visible status.
func (c *Controller) Status() string { return c.status }

// Health returns the sample taken after the most recent completed append.
func (c *Controller) Health() (Health, bool) { return c.health, c.hasHealth }

// Current samples buffer health now, independent of append completions.
func (c *Controller) Current() (Health, bool) {
	return SampleHealth(c.sink, c.surface)
}

// Stats is a point-in-time snapshot of a controller.
type Stats struct {
	State          string  `json:"state"`
	Start          string  `json:"start"`
	Status         string  `json:"status"`
	Playing        bool    `json:"playing"`
	QueueDepth     int     `json:"queueDepth"`
	QueuePeak      int     `json:"queuePeak"`
	QueuedBytes    int     `json:"queuedBytes"`
	Submitted      uint64  `json:"submitted"`
	SubmittedBytes int64   `json:"submittedBytes"`
	FastPath       uint64  `json:"fastPath"`
	Resets         int     `json:"resets"`
	Trims          int     `json:"trims"`
	TrimmedSeconds float64 `json:"trimmedSeconds"`
	Health         *Health `json:"health,omitempty"`
	BufferedFrames int     `json:"bufferedFrames"`
	Error          string  `json:"error,omitempty"`
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	submitted, bytes := c.sched.Submitted()
	q := c.sched.Queue()
	st := Stats{
		State:          c.sched.State().String(),
		Start:          c.resync.State().String(),
		Status:         c.status,
		Playing:        c.playing,
		QueueDepth:     q.Len(),
		QueuePeak:      q.Peak(),
		QueuedBytes:    q.Bytes(),
		Submitted:      submitted,
		SubmittedBytes: bytes,
		FastPath:       c.sched.FastPath(),
		Resets:         c.resync.Resets(),
		Trims:          c.trim.Trims(),
		TrimmedSeconds: c.trim.Trimmed(),
	}
	if c.hasHealth {
		h := c.health
		st.Health = &h
		st.BufferedFrames = h.Frames(c.cfg.FrameRate)
	}
	if c.err != nil {
		st.Error = c.err.Error()
	}
	return st
}

// IsFatal reports whether err ends a playback session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSinkAborted) ||
		errors.Is(err, ErrSinkFault) ||
		errors.Is(err, ErrQueueOverrun) ||
		errors.Is(err, ErrHalted)
}
