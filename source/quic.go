package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/livebuf/internal/wire"
	"github.com/zsiec/livebuf/media"
)

// ALPN is the application protocol negotiated on QUIC segment streams.
const ALPN = "livebuf"

// QUICConfig is shared by the QUIC client and test servers.
var QUICConfig = &quic.Config{
	MaxIdleTimeout:  30 * time.Second,
	KeepAlivePeriod: 10 * time.Second,
}

// QUIC is a push source over a single bidirectional QUIC stream. The
// client announces the stream key it wants with a watch message; the
// server answers with frame messages, each carrying one discriminated
// frame, and ends with go-away.
type QUIC struct {
	counters
	log    *slog.Logger
	conn   quic.Connection
	stream quic.Stream
	key    string

	writeMu sync.Mutex
}

// DialQUIC connects to addr and subscribes to key. tlsConf must set
// NextProtos to ALPN; certs.PinnedClientConfig does.
func DialQUIC(ctx context.Context, addr, key string, tlsConf *tls.Config, log *slog.Logger) (*QUIC, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := wire.ParseWatch([]byte(key)); err != nil {
		return nil, fmt.Errorf("source: invalid stream key: %w", err)
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, QUICConfig)
	if err != nil {
		return nil, &TransportError{Transport: "quic", Err: err}
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, &TransportError{Transport: "quic", Err: err}
	}
	if err := wire.WriteMsg(stream, wire.MsgWatch, []byte(key)); err != nil {
		conn.CloseWithError(0, "watch failed")
		return nil, &TransportError{Transport: "quic", Err: err}
	}

	q := &QUIC{
		log:    log.With("component", "source", "transport", "quic", "stream", key),
		conn:   conn,
		stream: stream,
		key:    key,
	}
	q.start("quic", conn.RemoteAddr().String())
	q.log.Info("connected", "address", addr)
	return q, nil
}

// Stream delivers the frames carried by frame messages until the server
// sends go-away or the connection fails. Both are transport faults; a
// go-away wraps ErrPeerClosed.
func (q *QUIC) Stream(ctx context.Context, deliver func(media.Frame) error) error {
	stop := context.AfterFunc(ctx, func() { q.stream.CancelRead(0) })
	defer stop()

	r := wire.NewReader(q.stream)
	for {
		msgType, payload, err := r.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				q.log.Info("stream closed by peer")
				return &TransportError{Transport: "quic", Err: ErrPeerClosed}
			}
			return &TransportError{Transport: "quic", Err: err}
		}

		switch msgType {
		case wire.MsgFrame:
			q.recordRead(len(payload))
			f, err := q.classify(payload, true)
			if err != nil {
				q.log.Warn("discarding frame", "bytes", len(payload), "error", err)
				continue
			}
			if err := deliver(f); err != nil {
				return err
			}
		case wire.MsgGoAway:
			q.log.Info("server ended stream")
			return &TransportError{Transport: "quic", Err: fmt.Errorf("%w: go-away", ErrPeerClosed)}
		default:
			q.log.Debug("ignoring message", "type", msgType, "bytes", len(payload))
		}
	}
}

// Report sends a telemetry line upstream.
func (q *QUIC) Report(msg string) error {
	if err := q.writeText(msg); err != nil {
		return err
	}
	q.reports.Add(1)
	return nil
}

// Command sends an operator command upstream.
func (q *QUIC) Command(cmd string) error {
	return q.writeText(cmd)
}

func (q *QUIC) writeText(msg string) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()
	if err := wire.WriteMsg(q.stream, wire.MsgText, []byte(msg)); err != nil {
		return &TransportError{Transport: "quic", Err: err}
	}
	return nil
}

// Close closes the stream and the connection.
func (q *QUIC) Close() error {
	q.writeMu.Lock()
	q.stream.Close()
	q.writeMu.Unlock()
	return q.conn.CloseWithError(0, "closed")
}
