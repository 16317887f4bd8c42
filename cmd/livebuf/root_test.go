package main

import (
	"bytes"
	"crypto/tls"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/livebuf/internal/certs"
	"github.com/zsiec/livebuf/internal/config"
	"github.com/zsiec/livebuf/sink"
	"github.com/zsiec/livebuf/source"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livebuf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "livebuf dev ("), out.String())
}

func TestPlayRequiresURL(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"play", "--config", writeConfig(t, "logging:\n  level: warn\n")})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "no source URL")
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"play", "http://origin/live.mp4", "--log-level", "loud",
		"--config", writeConfig(t, "logging:\n  level: warn\n")})

	assert.ErrorContains(t, cmd.Execute(), "logging.level")
}

func TestApplyPlayFlags(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
playback:
  preset: camera
  queue_limit: 8
source:
  url: wss://camera.local:8400
`))
	require.NoError(t, err)

	cmd := newPlayCmd(&rootOptions{})
	require.NoError(t, cmd.Flags().Parse([]string{
		"--high-watermark", "3s",
		"--safety-margin", "1s",
		"--frame-rate", "30",
		"--raw",
		"--watch", "studio",
		"--timing", "fixed",
		"--segment-duration", "40ms",
		"--no-api",
	}))
	require.NoError(t, applyPlayFlags(cmd.Flags(), cfg))

	pcfg, err := cfg.Playback.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, pcfg.HighWatermark)
	assert.Equal(t, time.Second, pcfg.SafetyMargin)
	assert.Equal(t, 8, pcfg.QueueLimit, "file override survives")
	assert.Equal(t, 30.0, pcfg.FrameRate)

	assert.False(t, cfg.Source.Multiplexed)
	assert.Equal(t, "studio", cfg.Source.Key())
	assert.Equal(t, config.TimingFixed, cfg.Sink.Timing)
	assert.Equal(t, 40*time.Millisecond, cfg.Sink.SegmentDuration)
	assert.Empty(t, cfg.API.Addr)
}

func TestApplyPlayFlagsUnchangedKeepsPreset(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "source:\n  url: http://origin/live.mp4\n"))
	require.NoError(t, err)

	cmd := newPlayCmd(&rootOptions{})
	require.NoError(t, cmd.Flags().Parse(nil))
	require.NoError(t, applyPlayFlags(cmd.Flags(), cfg))

	got, err := cfg.Playback.Resolve()
	require.NoError(t, err)
	want, err := config.Load(writeConfig(t, "source:\n  url: http://origin/live.mp4\n"))
	require.NoError(t, err)
	wantCfg, err := want.Playback.Resolve()
	require.NoError(t, err)
	assert.Equal(t, wantCfg, got)
	assert.True(t, cfg.Source.Multiplexed)
	assert.NotEmpty(t, cfg.API.Addr)
}

func TestApplyPlayFlagsValidates(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "source:\n  url: http://origin/live.mp4\n"))
	require.NoError(t, err)

	cmd := newPlayCmd(&rootOptions{})
	require.NoError(t, cmd.Flags().Parse([]string{"--kind", "rtmp"}))
	assert.ErrorContains(t, applyPlayFlags(cmd.Flags(), cfg), "source.kind")
}

func TestSRTRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      config.SourceConfig
		wantAddr string
		wantID   string
		wantErr  bool
	}{
		{"query stream id", config.SourceConfig{URL: "srt://relay:9000?streamid=live/cam", StreamID: "other"}, "relay:9000", "live/cam", false},
		{"configured stream id", config.SourceConfig{URL: "srt://relay:9000", StreamID: "studio"}, "relay:9000", "studio", false},
		{"no host", config.SourceConfig{URL: "srt:///path"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.cfg.DialTimeout = 2 * time.Second
			req, err := srtRequest(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, req.Address)
			assert.Equal(t, tt.wantID, req.StreamID)
			assert.Equal(t, 2*time.Second, req.Timeout)
		})
	}
}

func TestQUICTarget(t *testing.T) {
	t.Parallel()

	addr, tlsConf, err := quicTarget(config.SourceConfig{URL: "quic://relay.example:4443"})
	require.NoError(t, err)
	assert.Equal(t, "relay.example:4443", addr)
	assert.Equal(t, "relay.example", tlsConf.ServerName)
	assert.Equal(t, []string{source.ALPN}, tlsConf.NextProtos)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsConf.MinVersion)

	cert, err := certs.Generate(time.Hour)
	require.NoError(t, err)
	_, pinned, err := quicTarget(config.SourceConfig{URL: "quic://127.0.0.1:4443", CertHash: cert.FingerprintHex()})
	require.NoError(t, err)
	assert.True(t, pinned.InsecureSkipVerify)
	assert.NotNil(t, pinned.VerifyPeerCertificate)

	_, _, err = quicTarget(config.SourceConfig{URL: "quic://relay.example"})
	assert.Error(t, err, "port is required")
	_, _, err = quicTarget(config.SourceConfig{URL: "quic://relay:4443", CertHash: "abcd"})
	assert.ErrorContains(t, err, "cert_hash")
}

func TestOpenOutput(t *testing.T) {
	t.Parallel()

	w, closeFn, err := openOutput("")
	require.NoError(t, err)
	assert.Nil(t, w)
	closeFn()

	w, closeFn, err = openOutput("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)
	closeFn()

	path := filepath.Join(t.TempDir(), "out.mp4")
	w, closeFn, err = openOutput(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("moof"))
	require.NoError(t, err)
	closeFn()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "moof", string(data))

	_, _, err = openOutput(filepath.Join(t.TempDir(), "missing", "out.mp4"))
	assert.Error(t, err)
}

func TestNewTiming(t *testing.T) {
	t.Parallel()

	tm, err := newTiming(config.SinkConfig{Timing: config.TimingFMP4})
	require.NoError(t, err)
	assert.IsType(t, &sink.FMP4Timing{}, tm)

	tm, err = newTiming(config.SinkConfig{Timing: config.TimingFixed, SegmentDuration: time.Second})
	require.NoError(t, err)
	r, ok, err := tm.Span([]byte{1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, r.End, 1e-9)

	_, err = newTiming(config.SinkConfig{Timing: "wallclock"})
	assert.Error(t, err)
}
