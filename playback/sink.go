// Package playback keeps an append-only media sink synchronized with a live
// source. A Session serializes segments into a sink that accepts one
// append at a time, aligns the playback clock on cold start, bounds
// latency with drift correction and optionally trims stale media.
package playback

import "github.com/zsiec/livebuf/media"

// SinkEventKind identifies what a sink is reporting on its event channel.
type SinkEventKind int

// Sink events. EventUpdateEnd is the completion signal for the in-flight
// append; EventAbort and EventError are fatal to the session.
const (
	EventUpdateEnd SinkEventKind = iota
	EventAbort
	EventError
)

func (k SinkEventKind) String() string {
	switch k {
	case EventUpdateEnd:
		return "updateend"
	case EventAbort:
		return "abort"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// SinkEvent is delivered by a Sink when an append finishes or fails.
type SinkEvent struct {
	Kind SinkEventKind
	Err  error
}

// Sink is a media destination that accepts one pending append at a time.
// Append starts an asynchronous submission and must not be called again
// until the sink has delivered an event for it. Remove evicts buffered
// media synchronously and is only called while no append is in flight.
type Sink interface {
	Append(data []byte) error
	Updating() bool
	Buffered() media.Ranges
	Remove(start, end float64) error
	Events() <-chan SinkEvent
}

// Clock is the playback position of the surface consuming the sink. The
// surface advances it naturally; the session only seeks it.
type Clock interface {
	Position() float64
	Seek(pos float64)
	// Played reports whether any media has been played yet.
	Played() bool
}

// Surface is a Clock that can be told to begin playback. Play may fail,
// e.g. when the surface refuses to start without user interaction.
type Surface interface {
	Clock
	Play() error
}

// Reporter delivers outbound telemetry text to the remote operator.
type Reporter interface {
	Report(msg string) error
}

// Observer receives user-visible state changes: status strings, buffer
// health after each append, and the reset counter.
type Observer interface {
	OnStatus(status string)
	OnHealth(h Health)
	OnReset(resets int)
}

// Status strings surfaced to the UI collaborator.
const (
	StatusPlaying    = "Playing..."
	StatusPlayFailed = "Play failed. Please click play to begin playing."
	StatusAbort      = "playback abort"
	StatusError      = "playback error"
)

type nopObserver struct{}

func (nopObserver) OnStatus(string) {}
func (nopObserver) OnHealth(Health) {}
func (nopObserver) OnReset(int) {}
