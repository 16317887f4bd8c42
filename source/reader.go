package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/zsiec/livebuf/media"
)

// Reader is a pull source over a streamed byte body. Each chunk read
// becomes one media segment; the stream ends at EOF.
type Reader struct {
	counters
	log  *slog.Logger
	body io.ReadCloser
	buf  []byte
}

// NewReader wraps body, reading up to chunkSize bytes per segment. A
// non-positive chunkSize uses media.ReadChunkSize.
func NewReader(body io.ReadCloser, transport, remoteAddr string, chunkSize int, log *slog.Logger) *Reader {
	if chunkSize <= 0 {
		chunkSize = media.ReadChunkSize
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Reader{
		log:  log.With("component", "source", "transport", transport),
		body: body,
		buf:  make([]byte, chunkSize),
	}
	r.start(transport, remoteAddr)
	return r
}

// Next blocks until the next chunk is available. It returns io.EOF once
// the body is exhausted.
func (r *Reader) Next() ([]byte, error) {
	for {
		n, err := r.body.Read(r.buf)
		if n > 0 {
			r.recordRead(n)
			return bytes.Clone(r.buf[:n]), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Stream reads chunks until EOF and delivers each as a media frame.
// Cancelling ctx closes the body to unblock a pending read.
func (r *Reader) Stream(ctx context.Context, deliver func(media.Frame) error) error {
	stop := context.AfterFunc(ctx, func() { r.body.Close() })
	defer stop()

	for {
		chunk, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.log.Info("stream ended", "bytes", r.bytesReceived.Load())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Transport: r.transport, Err: err}
		}
		f, _ := r.classify(chunk, false)
		if err := deliver(f); err != nil {
			return err
		}
	}
}

// Close releases the body.
func (r *Reader) Close() error {
	return r.body.Close()
}

// DialHTTP issues a GET for url and returns a pull source over the
// response body.
func DialHTTP(ctx context.Context, client *http.Client, url string, chunkSize int, log *slog.Logger) (*Reader, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Transport: "http", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &TransportError{Transport: "http", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return NewReader(resp.Body, "http", url, chunkSize, log), nil
}
