package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/livebuf/media"
)

// Session runs one Controller on a single goroutine. Segments arrive via
// Push from any goroutine; sink events, the health-report ticker and
// cancellation are multiplexed in Run, so the controller's state is never
// touched concurrently.
type Session struct {
	log      *slog.Logger
	cfg      Config
	ctl      *Controller
	sink     Sink
	reporter Reporter

	ingest chan media.Segment
	done   chan struct{}
	seq    atomic.Uint64
	stats  atomic.Pointer[Stats]

	reports      atomic.Int64
	reportErrors atomic.Int64
}

// NewSession validates cfg and builds a session around sink and surface.
// A nil observer discards state changes; a nil logger uses slog.Default().
func NewSession(cfg Config, sink Sink, surface Surface, obs Observer, log *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "playback")
	s := &Session{
		log:    log,
		cfg:    cfg,
		ctl:    NewController(cfg, sink, surface, obs, log),
		sink:   sink,
		ingest: make(chan media.Segment, media.IngestBufferSize),
		done:   make(chan struct{}),
	}
	s.publish()
	return s, nil
}

// SetReporter installs the outbound telemetry channel. It must be called
// before Run.
func (s *Session) SetReporter(r Reporter) {
	s.reporter = r
}

// Push hands a media payload to the session loop, assigning it the next
// sequence number. It blocks while the loop is busy and fails once the
// session has ended.
func (s *Session) Push(ctx context.Context, data []byte) error {
	select {
	case <-s.done:
		return ErrHalted
	default:
	}
	seg := media.Segment{
		Seq:      s.seq.Add(1),
		Data:     data,
		Received: time.Now(),
	}
	select {
	case s.ingest <- seg:
		return nil
	case <-s.done:
		return ErrHalted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes segments, sink events and health reports until ctx is
// cancelled or the session hits a fatal fault, which is returned.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	var tick <-chan time.Time
	if s.cfg.HealthReportInterval > 0 && s.reporter != nil {
		t := time.NewTicker(s.cfg.HealthReportInterval)
		defer t.Stop()
		tick = t.C
	}

	s.log.Info("session started",
		"high_watermark", s.cfg.HighWatermark,
		"safety_margin", s.cfg.SafetyMargin,
		"retention_ceiling", s.cfg.RetentionCeiling,
		"queue_limit", s.cfg.QueueLimit)

	for {
		var err error
		select {
		case <-ctx.Done():
			s.publish()
			s.log.Info("session stopped", "reason", ctx.Err())
			return nil
		case seg := <-s.ingest:
			err = s.ctl.Enqueue(seg)
		case ev, ok := <-s.sink.Events():
			if !ok {
				err = &SinkError{Kind: EventAbort, Err: fmt.Errorf("event channel closed")}
				s.ctl.fail(StatusAbort, err)
				break
			}
			err = s.ctl.HandleSinkEvent(ev)
		case <-tick:
			s.report()
		}
		s.publish()
		if err != nil {
			s.log.Error("session terminated", "error", err, "status", s.ctl.Status())
			return err
		}
	}
}

func (s *Session) report() {
	h, ok := s.ctl.Current()
	if !ok {
		return
	}
	s.reports.Add(1)
	if err := s.reporter.Report(h.Report()); err != nil {
		s.reportErrors.Add(1)
		s.log.Debug("health report failed", "error", err)
	}
}

func (s *Session) publish() {
	st := s.ctl.Stats()
	s.stats.Store(&st)
}

// Stats returns the snapshot published after the most recent event. It
// is safe to call from any goroutine.
func (s *Session) Stats() Stats {
	return *s.stats.Load()
}

// Reports returns the number of health reports sent and how many failed.
func (s *Session) Reports() (sent, failed int64) {
	return s.reports.Load(), s.reportErrors.Load()
}

// Drained reports whether every pushed segment has been appended and the
// sink has finished with the last one.
func (s *Session) Drained() bool {
	st := s.Stats()
	return st.Submitted == s.seq.Load() && st.State == StateIdle.String()
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Config returns the session's configuration.
func (s *Session) Config() Config { return s.cfg }
