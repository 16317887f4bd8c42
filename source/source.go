// Package source adapts transports into ordered sequences of frames for a
// playback session. Pull sources (HTTP bodies, SRT) read a byte stream in
// chunks and end explicitly; push sources (WebSocket, QUIC) deliver one
// frame per inbound message and end only when the connection does.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zsiec/livebuf/media"
)

// Source produces frames in arrival order.
type Source interface {
	// Stream calls deliver for each frame until the transport ends, ctx
	// is cancelled or deliver fails. A clean end of stream returns nil.
	Stream(ctx context.Context, deliver func(media.Frame) error) error
	Stats() Stats
	Close() error
}

// Reporter is implemented by sources with a back-channel to the remote
// operator.
type Reporter interface {
	Report(msg string) error
}

// Sentinel errors for frame classification.
var (
	ErrEmptyFrame     = errors.New("source: empty frame")
	ErrMalformedFrame = errors.New("source: malformed frame")
	ErrNoBackChannel  = errors.New("source: transport has no back-channel")
)

// ErrPeerClosed is wrapped in the TransportError a push source returns when
// the server closes the connection. Push streams have no clean end.
var ErrPeerClosed = errors.New("source: connection closed by peer")

// TransportError records a connection-level fault. Transport faults end
// the session; reconnecting is the caller's job.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("source: %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Stats captures connection-level metrics for a source.
type Stats struct {
	Transport     string `json:"transport"`
	BytesReceived int64  `json:"bytesReceived"`
	Messages      int64  `json:"messages"`
	MediaFrames   int64  `json:"mediaFrames"`
	ControlFrames int64  `json:"controlFrames"`
	Malformed     int64  `json:"malformed"`
	Reports       int64  `json:"reports"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// counters is embedded by every source.
type counters struct {
	transport   string
	remoteAddr  string
	connectedAt time.Time

	bytesReceived atomic.Int64
	messages      atomic.Int64
	mediaFrames   atomic.Int64
	controlFrames atomic.Int64
	malformed     atomic.Int64
	reports       atomic.Int64
}

func (c *counters) start(transport, remoteAddr string) {
	c.transport = transport
	c.remoteAddr = remoteAddr
	c.connectedAt = time.Now()
}

func (c *counters) recordRead(n int) {
	c.bytesReceived.Add(int64(n))
	c.messages.Add(1)
}

func (c *counters) recordFrame(f media.Frame) {
	if f.IsControl() {
		c.controlFrames.Add(1)
	} else {
		c.mediaFrames.Add(1)
	}
}

func (c *counters) Stats() Stats {
	return Stats{
		Transport:     c.transport,
		BytesReceived: c.bytesReceived.Load(),
		Messages:      c.messages.Load(),
		MediaFrames:   c.mediaFrames.Load(),
		ControlFrames: c.controlFrames.Load(),
		Malformed:     c.malformed.Load(),
		Reports:       c.reports.Load(),
		ConnectedAt:   c.connectedAt.UnixMilli(),
		UptimeMs:      time.Since(c.connectedAt).Milliseconds(),
		RemoteAddr:    c.remoteAddr,
	}
}
