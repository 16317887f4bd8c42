// Package wire implements the message framing used on QUIC segment
// streams: [type (varint)] [length (varint)] [payload]. Frame payloads are
// carried unopened; the discriminator byte inside them is handled by the
// source package.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/quic-go/quic-go/quicvarint"
)

// Message type IDs.
const (
	MsgWatch  uint64 = 0x01 // client → server: stream key to subscribe to
	MsgFrame  uint64 = 0x02 // server → client: one transport frame
	MsgText   uint64 = 0x03 // client → server: telemetry or operator command
	MsgGoAway uint64 = 0x10 // server → client: stream ended
)

// MaxMessageSize bounds a single message payload.
const MaxMessageSize = 16 << 20

// ErrMessageTooLarge is returned when a message length exceeds
// MaxMessageSize.
var ErrMessageTooLarge = errors.New("wire: message too large")

// ParseError indicates a failure to parse a message field. It records
// which field was being parsed when the error occurred.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Reader reads messages from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for message reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next message. A clean end of stream before the type
// field is reported as io.EOF.
func (r *Reader) Read() (uint64, []byte, error) {
	msgType, err := quicvarint.Read(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, &ParseError{Field: "message_type", Err: err}
	}
	length, err := quicvarint.Read(r.r)
	if err != nil {
		return 0, nil, &ParseError{Field: "message_length", Err: unexpected(err)}
	}
	if length > MaxMessageSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return 0, nil, &ParseError{Field: "message_payload", Err: unexpected(err)}
	}
	return msgType, payload, nil
}

// ReadMsg reads one message from r. Callers reading many messages from
// the same stream should keep a Reader instead.
func ReadMsg(r io.Reader) (uint64, []byte, error) {
	return NewReader(r).Read()
}

// WriteMsg writes a message as a single Write call so that concurrent
// writers never interleave partial messages.
func WriteMsg(w io.Writer, msgType uint64, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	buf := make([]byte, 0, len(payload)+16)
	buf = quicvarint.Append(buf, msgType)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ParseWatch validates a MsgWatch payload and returns the stream key.
func ParseWatch(payload []byte) (string, error) {
	key := strings.TrimSpace(string(payload))
	if key == "" {
		return "", &ParseError{Field: "stream_key", Err: errors.New("empty")}
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return "", &ParseError{Field: "stream_key", Err: fmt.Errorf("whitespace in %q", key)}
	}
	return key, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
