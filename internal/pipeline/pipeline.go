// Package pipeline bridges one segment source to one playback session:
// media frames are pushed into the session's append queue in arrival
// order, control frames go to the session's control board.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/livebuf/internal/control"
	"github.com/zsiec/livebuf/media"
	"github.com/zsiec/livebuf/playback"
	"github.com/zsiec/livebuf/source"
)

// DrainTimeout bounds how long a pipeline waits for queued segments to
// reach the sink after its source ends.
const DrainTimeout = 10 * time.Second

const drainPoll = 10 * time.Millisecond

// Stats is a point-in-time snapshot of a pipeline for the status API.
type Stats struct {
	ID             string         `json:"id"`
	Key            string         `json:"key"`
	UptimeMs       int64          `json:"uptimeMs"`
	Forwarded      int64          `json:"forwarded"`
	ForwardedBytes int64          `json:"forwardedBytes"`
	Skipped        int64          `json:"skipped"`
	ControlFrames  int64          `json:"controlFrames"`
	ControlErrors  int64          `json:"controlErrors"`
	Source         source.Stats   `json:"source"`
	Playback       playback.Stats `json:"playback"`
	Control        control.Stats  `json:"control"`
}

// Pipeline runs a source and a session together. The session stops when
// the source ends (after draining), and the source stops when the session
// hits a fatal fault.
type Pipeline struct {
	log       *slog.Logger
	id        string
	key       string
	src       source.Source
	session   *playback.Session
	board     *control.Board
	startTime time.Time

	forwarded      atomic.Int64
	forwardedBytes atomic.Int64
	skipped        atomic.Int64
	controlFrames  atomic.Int64
	controlErrors  atomic.Int64
}

// New wires src into session under a session id; an empty id is replaced
// by a random UUID. Sources with a back-channel receive the session's
// health reports and the board's operator commands.
func New(id, key string, src source.Source, session *playback.Session, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if id == "" {
		id = uuid.NewString()
	}
	log = log.With("component", "pipeline")

	var cmd control.Commander
	if c, ok := src.(control.Commander); ok {
		cmd = c
	}
	if r, ok := src.(source.Reporter); ok {
		session.SetReporter(r)
	}

	return &Pipeline{
		log:       log,
		id:        id,
		key:       key,
		src:       src,
		session:   session,
		board:     control.NewBoard(cmd, log),
		startTime: time.Now(),
	}
}

// ID returns the session id.
func (p *Pipeline) ID() string { return p.id }

// Key returns the stream key.
func (p *Pipeline) Key() string { return p.key }

// Board returns the session's control board.
func (p *Pipeline) Board() *control.Board { return p.board }

// Session returns the playback session.
func (p *Pipeline) Session() *playback.Session { return p.session }

// Run blocks until the source ends and the session has drained, ctx is
// cancelled, or either side fails. The source is closed on return.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.src.Close()

	g, gctx := errgroup.WithContext(ctx)
	sessCtx, stopSession := context.WithCancel(gctx)
	defer stopSession()

	g.Go(func() error {
		return p.session.Run(sessCtx)
	})

	g.Go(func() error {
		defer stopSession()
		err := p.src.Stream(gctx, p.deliver(gctx))
		switch {
		case errors.Is(err, playback.ErrHalted):
			return nil
		case err != nil && gctx.Err() != nil:
			return nil
		case err != nil:
			p.log.Error("source failed", "error", err)
			return err
		}
		p.log.Info("source ended", "forwarded", p.forwarded.Load())
		p.drain(gctx)
		return nil
	})

	return g.Wait()
}

func (p *Pipeline) deliver(ctx context.Context) func(media.Frame) error {
	return func(f media.Frame) error {
		if f.IsControl() {
			p.controlFrames.Add(1)
			if err := p.board.Handle(f); err != nil {
				p.controlErrors.Add(1)
				p.log.Warn("control frame rejected", "type", f.Type.String(), "error", err)
			}
			return nil
		}
		if len(f.Payload) == 0 {
			p.skipped.Add(1)
			return nil
		}
		if err := p.session.Push(ctx, f.Payload); err != nil {
			return err
		}
		p.forwarded.Add(1)
		p.forwardedBytes.Add(int64(len(f.Payload)))
		return nil
	}
}

// drain waits until every forwarded segment has reached the sink.
func (p *Pipeline) drain(ctx context.Context) {
	timeout := time.NewTimer(DrainTimeout)
	defer timeout.Stop()
	tick := time.NewTicker(drainPoll)
	defer tick.Stop()

	for !p.session.Drained() {
		select {
		case <-tick.C:
		case <-p.session.Done():
			return
		case <-ctx.Done():
			return
		case <-timeout.C:
			p.log.Warn("drain timed out", "queued", p.session.Stats().QueueDepth)
			return
		}
	}
}

// Stats returns a snapshot of the pipeline and its parts.
func (p *Pipeline) Stats() Stats {
	return Stats{
		ID:             p.id,
		Key:            p.key,
		UptimeMs:       time.Since(p.startTime).Milliseconds(),
		Forwarded:      p.forwarded.Load(),
		ForwardedBytes: p.forwardedBytes.Load(),
		Skipped:        p.skipped.Load(),
		ControlFrames:  p.controlFrames.Load(),
		ControlErrors:  p.controlErrors.Load(),
		Source:         p.src.Stats(),
		Playback:       p.session.Stats(),
		Control:        p.board.Stats(),
	}
}
