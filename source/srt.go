package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

const (
	// srtReadBufferSize holds ten 1316-byte SRT payloads per read.
	srtReadBufferSize = 1316 * 10
	// srtLatencyNs is the SRT receiver latency in nanoseconds (120ms).
	srtLatencyNs = 120_000_000
	// DefaultDialTimeout bounds connection setup for dialed sources.
	DefaultDialTimeout = 10 * time.Second
)

// SRTRequest describes a remote SRT listener to pull from.
type SRTRequest struct {
	Address  string
	StreamID string
	Timeout  time.Duration
}

// DialSRT connects to an SRT listener in caller mode and returns a pull
// source over the connection. The dial is abandoned after the request
// timeout or when ctx is cancelled.
func DialSRT(ctx context.Context, req SRTRequest, log *slog.Logger) (*Reader, error) {
	if req.Address == "" {
		return nil, fmt.Errorf("source: srt address is required")
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultDialTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if req.StreamID != "" {
		cfg.StreamID = req.StreamID
	}

	log.Info("dialing", "transport", "srt", "address", req.Address, "stream_id", req.StreamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	// abandon closes a connection that completes after we stopped waiting.
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &TransportError{Transport: "srt", Err: fmt.Errorf("dial %s: %w", req.Address, res.err)}
		}
		log.Info("connected", "transport", "srt", "address", req.Address)
		return NewReader(res.conn, "srt", req.Address, srtReadBufferSize, log), nil
	case <-timer.C:
		abandon()
		return nil, &TransportError{Transport: "srt", Err: fmt.Errorf("dial %s timed out after %s", req.Address, req.Timeout)}
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}
