// Package media defines the segment, frame, and timeline types that flow
// from a segment source through the append queue into a playback sink.
package media

import "time"

// Channel and queue sizes shared by sources (producers) and playback
// sessions (consumers). The ingest channel only decouples the transport
// read loop from the session loop; the append queue is the real buffer.
const (
	IngestBufferSize = 16
	QueueLimit       = 512
	ReadChunkSize    = 64 * 1024
)

// FrameType is the leading discriminator byte on channels that multiplex
// control messages alongside media.
type FrameType byte

// Discriminator values. Any other leading byte on a multiplexed channel is
// a malformed frame.
const (
	FrameMedia        FrameType = 0
	FrameStatus       FrameType = 1 // status text for the operator UI
	FrameControlList  FrameType = 2 // a control name being announced
	FrameControlState FrameType = 3 // JSON snapshot of control state
)

func (t FrameType) String() string {
	switch t {
	case FrameMedia:
		return "media"
	case FrameStatus:
		return "status"
	case FrameControlList:
		return "control-list"
	case FrameControlState:
		return "control-state"
	default:
		return "unknown"
	}
}

// Frame is one inbound transport message after the discriminator has been
// stripped. Payload is never modified after the frame is created.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// IsControl reports whether the frame belongs to the control UI rather
// than the append queue.
func (f Frame) IsControl() bool {
	return f.Type == FrameStatus || f.Type == FrameControlList || f.Type == FrameControlState
}

// Segment is one opaque chunk of encoded media handed to the sink as a
// unit. Seq is assigned by the session in arrival order.
type Segment struct {
	Seq      uint64
	Data     []byte
	Received time.Time
}

// Len returns the payload size in bytes.
func (s Segment) Len() int { return len(s.Data) }
