package source

import (
	"fmt"

	"github.com/zsiec/livebuf/media"
)

// Classify strips the leading discriminator byte from a message received
// on a multiplexed channel. Type 0 is media; 1, 2 and 3 are control
// frames for the operator UI. Any other leading byte is malformed.
func Classify(msg []byte) (media.Frame, error) {
	if len(msg) == 0 {
		return media.Frame{}, ErrEmptyFrame
	}
	t := media.FrameType(msg[0])
	switch t {
	case media.FrameMedia, media.FrameStatus, media.FrameControlList, media.FrameControlState:
		return media.Frame{Type: t, Payload: msg[1:]}, nil
	default:
		return media.Frame{}, fmt.Errorf("%w: discriminator %#02x", ErrMalformedFrame, msg[0])
	}
}

// classify applies Classify on multiplexed channels and passes raw media
// through otherwise. Malformed frames are counted and reported to the
// caller, which discards them.
func (c *counters) classify(msg []byte, multiplexed bool) (media.Frame, error) {
	if !multiplexed {
		f := media.Frame{Type: media.FrameMedia, Payload: msg}
		c.recordFrame(f)
		return f, nil
	}
	f, err := Classify(msg)
	if err != nil {
		c.malformed.Add(1)
		return f, err
	}
	c.recordFrame(f)
	return f, nil
}
