package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/zsiec/livebuf/internal/certs"
	"github.com/zsiec/livebuf/internal/config"
	"github.com/zsiec/livebuf/source"
)

// dialSource connects the configured source. Dial timeouts only bound
// connection setup, never the stream itself.
func dialSource(ctx context.Context, sc config.SourceConfig, kind string, log *slog.Logger) (source.Source, error) {
	switch kind {
	case config.KindHTTP:
		client := &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: sc.DialTimeout,
		}}
		return source.DialHTTP(ctx, client, sc.URL, sc.ChunkSize, log)

	case config.KindSRT:
		req, err := srtRequest(sc)
		if err != nil {
			return nil, err
		}
		return source.DialSRT(ctx, req, log)

	case config.KindWebSocket:
		dctx, cancel := dialContext(ctx, sc)
		defer cancel()
		return source.DialWebSocket(dctx, sc.URL, nil, sc.Multiplexed, log)

	case config.KindQUIC:
		addr, tlsConf, err := quicTarget(sc)
		if err != nil {
			return nil, err
		}
		dctx, cancel := dialContext(ctx, sc)
		defer cancel()
		return source.DialQUIC(dctx, addr, sc.Key(), tlsConf, log)

	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

func dialContext(ctx context.Context, sc config.SourceConfig) (context.Context, context.CancelFunc) {
	if sc.DialTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, sc.DialTimeout)
}

// srtRequest builds an SRT dial from srt://host:port?streamid=... . The
// query parameter wins over source.stream_id.
func srtRequest(sc config.SourceConfig) (source.SRTRequest, error) {
	u, err := url.Parse(sc.URL)
	if err != nil {
		return source.SRTRequest{}, fmt.Errorf("source.url: %w", err)
	}
	if u.Host == "" {
		return source.SRTRequest{}, fmt.Errorf("source.url: missing host in %q", sc.URL)
	}
	req := source.SRTRequest{
		Address:  u.Host,
		StreamID: sc.StreamID,
		Timeout:  sc.DialTimeout,
	}
	if id := u.Query().Get("streamid"); id != "" {
		req.StreamID = id
	}
	return req, nil
}

// quicTarget resolves the dial address and TLS config for quic://host:port.
// With a certificate hash the connection is pinned to it; otherwise the
// server certificate is verified against the system roots.
func quicTarget(sc config.SourceConfig) (string, *tls.Config, error) {
	u, err := url.Parse(sc.URL)
	if err != nil {
		return "", nil, fmt.Errorf("source.url: %w", err)
	}
	if u.Host == "" || u.Port() == "" {
		return "", nil, fmt.Errorf("source.url: quic URL needs host:port, got %q", sc.URL)
	}
	if sc.CertHash != "" {
		fp, err := certs.ParseFingerprint(sc.CertHash)
		if err != nil {
			return "", nil, fmt.Errorf("source.cert_hash: %w", err)
		}
		return u.Host, certs.PinnedClientConfig(fp, source.ALPN), nil
	}
	return u.Host, &tls.Config{
		ServerName: u.Hostname(),
		NextProtos: []string{source.ALPN},
		MinVersion: tls.VersionTLS13,
	}, nil
}
