package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/livebuf/media"
)

const wsWriteTimeout = 5 * time.Second

// WebSocket is a push source over a WebSocket connection. Binary messages
// carry frames, optionally behind a discriminator byte; text messages are
// treated as status updates. Report and Command write text messages back
// to the server.
type WebSocket struct {
	counters
	log         *slog.Logger
	conn        *websocket.Conn
	multiplexed bool

	writeMu sync.Mutex
}

// DialWebSocket connects to url. When multiplexed is set, every binary
// message starts with a discriminator byte.
func DialWebSocket(ctx context.Context, url string, header http.Header, multiplexed bool, log *slog.Logger) (*WebSocket, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &TransportError{Transport: "websocket", Err: err}
	}
	ws := &WebSocket{
		log:         log.With("component", "source", "transport", "websocket"),
		conn:        conn,
		multiplexed: multiplexed,
	}
	ws.start("websocket", conn.RemoteAddr().String())
	ws.log.Info("connected", "url", url, "multiplexed", multiplexed)
	return ws, nil
}

// Stream delivers one frame per inbound message until the connection
// closes. Any close by the server is a transport fault wrapping
// ErrPeerClosed.
func (w *WebSocket) Stream(ctx context.Context, deliver func(media.Frame) error) error {
	stop := context.AfterFunc(ctx, func() { w.conn.Close() })
	defer stop()

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Info("connection closed by peer")
				return &TransportError{Transport: "websocket", Err: fmt.Errorf("%w: %v", ErrPeerClosed, err)}
			}
			return &TransportError{Transport: "websocket", Err: err}
		}
		w.recordRead(len(data))

		var f media.Frame
		switch msgType {
		case websocket.TextMessage:
			f = media.Frame{Type: media.FrameStatus, Payload: data}
			w.recordFrame(f)
		case websocket.BinaryMessage:
			f, err = w.classify(data, w.multiplexed)
			if err != nil {
				w.log.Warn("discarding frame", "bytes", len(data), "error", err)
				continue
			}
		default:
			continue
		}
		if err := deliver(f); err != nil {
			return err
		}
	}
}

// Report sends a telemetry line to the server.
func (w *WebSocket) Report(msg string) error {
	if err := w.writeText(msg); err != nil {
		return err
	}
	w.reports.Add(1)
	return nil
}

// Command sends an operator command to the server.
func (w *WebSocket) Command(cmd string) error {
	return w.writeText(cmd)
}

func (w *WebSocket) writeText(msg string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return &TransportError{Transport: "websocket", Err: err}
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return &TransportError{Transport: "websocket", Err: err}
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.writeMu.Unlock()
	err := w.conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		w.log.Debug("close frame not sent", "error", werr)
	}
	return err
}
