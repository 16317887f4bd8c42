package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/livebuf/internal/control"
	"github.com/zsiec/livebuf/internal/pipeline"
	"github.com/zsiec/livebuf/internal/stream"
	"github.com/zsiec/livebuf/media"
	"github.com/zsiec/livebuf/playback"
)

type commandLog struct {
	mu   sync.Mutex
	cmds []string
	err  error
}

func (c *commandLog) Command(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.cmds = append(c.cmds, cmd)
	return nil
}

type boardRunner struct {
	board *control.Board
	stats pipeline.Stats
}

func (r *boardRunner) Run(ctx context.Context) error { return nil }

func (r *boardRunner) Stats() pipeline.Stats { return r.stats }

func (r *boardRunner) Board() *control.Board { return r.board }

type plainRunner struct{}

func (plainRunner) Run(ctx context.Context) error { return nil }

func (plainRunner) Stats() pipeline.Stats { return pipeline.Stats{Key: "plain"} }

func newTestServer(t *testing.T) (*httptest.Server, *commandLog) {
	t.Helper()
	m := stream.NewManager(nil)

	cmds := &commandLog{}
	board := control.NewBoard(cmds, nil)
	require.NoError(t, board.Handle(media.Frame{Type: media.FrameControlList, Payload: []byte("cam1")}))
	m.Create("studio", &boardRunner{
		board: board,
		stats: pipeline.Stats{Key: "studio", Playback: playback.Stats{Status: playback.StatusPlaying, Resets: 2}},
	})
	m.Create("plain", plainRunner{})

	srv := httptest.NewServer(NewServer(m, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, cmds
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"status":"ok","sessions":2}`, string(body))
}

func TestListAndGetSessions(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []stream.Info
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "plain", list[0].Key)
	assert.Equal(t, "studio", list[1].Key)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/sessions/studio", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info stream.Info
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, playback.StatusPlaying, info.Stats.Playback.Status)
	assert.Equal(t, 2, info.Stats.Playback.Resets)
	assert.NotEmpty(t, info.ID)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"session not found"}`, string(body))
}

func TestCommands(t *testing.T) {
	t.Parallel()
	srv, cmds := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"live", "/api/sessions/studio/live/cam1", "", http.StatusNoContent},
		{"scene", "/api/sessions/studio/scene/wide", "", http.StatusNoContent},
		{"zoom", "/api/sessions/studio/zoom/cam1", `{"x":10,"y":20,"zoom":2}`, http.StatusNoContent},
		{"zoom unknown control", "/api/sessions/studio/zoom/cam9", `{"x":0,"y":0,"zoom":1}`, http.StatusNotFound},
		{"zoom bad factor", "/api/sessions/studio/zoom/cam1", `{"zoom":0}`, http.StatusBadRequest},
		{"zoom bad body", "/api/sessions/studio/zoom/cam1", `{`, http.StatusBadRequest},
		{"no board", "/api/sessions/plain/live/cam1", "", http.StatusNotImplemented},
		{"no session", "/api/sessions/nope/live/cam1", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, body := do(t, http.MethodPost, srv.URL+tt.path, tt.body)
		assert.Equal(t, tt.status, resp.StatusCode, "%s: %s", tt.name, body)
	}

	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	assert.Equal(t, []string{"live cam1", "scene wide", "zoom cam1 10 20 1920 1080"}, cmds.cmds)
}

func TestCommandBackChannelFailure(t *testing.T) {
	t.Parallel()
	srv, cmds := newTestServer(t)
	cmds.mu.Lock()
	cmds.err = errors.New("connection reset")
	cmds.mu.Unlock()

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/sessions/studio/live/cam1", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(stream.NewManager(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
