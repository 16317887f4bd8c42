package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/livebuf/internal/api"
	"github.com/zsiec/livebuf/internal/config"
	"github.com/zsiec/livebuf/internal/logging"
	"github.com/zsiec/livebuf/internal/metrics"
	"github.com/zsiec/livebuf/internal/pipeline"
	"github.com/zsiec/livebuf/internal/stream"
	"github.com/zsiec/livebuf/playback"
	"github.com/zsiec/livebuf/sink"
)

func newPlayCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [url]",
		Short: "Play a live segment stream",
		Long: `Connect to a segment source and play it through the reference sink.

Sources are selected by URL scheme: http(s):// pulls a byte stream,
srt:// pulls over SRT (?streamid= sets the stream ID), ws(s):// and
quic:// receive pushed frames.`,
		Example: `  livebuf play wss://camera.local:8400 --preset camera --live cam1
  livebuf play quic://relay:4443 --watch studio --cert-hash <sha256>
  livebuf play https://origin/live.mp4 --output - | ffplay -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.cfg.Source.URL = args[0]
			}
			if err := applyPlayFlags(cmd.Flags(), opts.cfg); err != nil {
				return err
			}
			live, _ := cmd.Flags().GetString("live")
			return runPlay(cmd.Context(), opts.cfg, opts.log, live)
		},
	}

	f := cmd.Flags()
	f.String("preset", playback.DefaultPreset, "controller preset ("+strings.Join(playback.PresetNames(), ", ")+")")
	f.Duration("high-watermark", 0, "buffered duration that triggers a seek toward the live edge (0 disables)")
	f.Duration("safety-margin", 0, "distance behind the live edge a correction seeks to")
	f.Duration("retention-ceiling", 0, "retained media before played data is trimmed (0 disables)")
	f.Duration("report-interval", 0, "health report interval (0 disables)")
	f.Int("queue-limit", 0, "maximum queued segments (0 = unbounded)")
	f.Bool("gate", false, "only correct drift while the surface is playing")
	f.Float64("frame-rate", 0, "frame rate used to express buffer depth in frames")
	f.Int("chunk-size", 0, "read size for pull sources (0 = default)")
	f.String("kind", "", "source kind (http, srt, ws, quic); inferred from the URL when empty")
	f.Bool("raw", false, "treat every push message as media (no discriminator byte)")
	f.String("watch", "", "stream key to subscribe to and register under")
	f.String("stream-id", "", "SRT stream ID")
	f.String("cert-hash", "", "pin the QUIC server certificate to this SHA-256 fingerprint")
	f.String("timing", "", "sink timing (fmp4, fixed)")
	f.Duration("segment-duration", 0, "per-segment duration for fixed timing")
	f.Duration("render-interval", 0, "how often the reference sink renders played fragments")
	f.String("output", "", `write played media to a file ("-" for stdout)`)
	f.String("api-addr", "", `status API listen address ("" keeps the config value)`)
	f.Bool("no-api", false, "disable the status API")
	f.String("live", "", "select this control as live as soon as it is announced")
	return cmd
}

// playbackFlags maps play flags onto playback override keys.
var playbackFlags = map[string]string{
	"high-watermark":    "high_watermark",
	"safety-margin":     "safety_margin",
	"retention-ceiling": "retention_ceiling",
	"report-interval":   "health_report_interval",
	"queue-limit":       "queue_limit",
	"gate":              "gate_on_playing",
	"frame-rate":        "frame_rate",
}

// applyPlayFlags copies explicitly set flags over cfg and revalidates.
func applyPlayFlags(f *pflag.FlagSet, cfg *config.Config) error {
	pb := &cfg.Playback
	if f.Changed("preset") {
		pb.Preset, _ = f.GetString("preset")
	}
	if f.Changed("high-watermark") {
		pb.HighWatermark, _ = f.GetDuration("high-watermark")
	}
	if f.Changed("safety-margin") {
		pb.SafetyMargin, _ = f.GetDuration("safety-margin")
	}
	if f.Changed("retention-ceiling") {
		pb.RetentionCeiling, _ = f.GetDuration("retention-ceiling")
	}
	if f.Changed("report-interval") {
		pb.HealthReportInterval, _ = f.GetDuration("report-interval")
	}
	if f.Changed("queue-limit") {
		pb.QueueLimit, _ = f.GetInt("queue-limit")
	}
	if f.Changed("gate") {
		pb.GateOnPlaying, _ = f.GetBool("gate")
	}
	if f.Changed("frame-rate") {
		pb.FrameRate, _ = f.GetFloat64("frame-rate")
	}
	for flag, key := range playbackFlags {
		if f.Changed(flag) {
			pb.Override(key)
		}
	}

	src := &cfg.Source
	if f.Changed("kind") {
		src.Kind, _ = f.GetString("kind")
	}
	if f.Changed("raw") {
		raw, _ := f.GetBool("raw")
		src.Multiplexed = !raw
	}
	if f.Changed("watch") {
		src.Watch, _ = f.GetString("watch")
	}
	if f.Changed("stream-id") {
		src.StreamID, _ = f.GetString("stream-id")
	}
	if f.Changed("cert-hash") {
		src.CertHash, _ = f.GetString("cert-hash")
	}
	if f.Changed("chunk-size") {
		src.ChunkSize, _ = f.GetInt("chunk-size")
	}

	if f.Changed("timing") {
		cfg.Sink.Timing, _ = f.GetString("timing")
	}
	if f.Changed("segment-duration") {
		cfg.Sink.SegmentDuration, _ = f.GetDuration("segment-duration")
	}
	if f.Changed("output") {
		cfg.Sink.Output, _ = f.GetString("output")
	}
	if f.Changed("render-interval") {
		cfg.Sink.RenderInterval, _ = f.GetDuration("render-interval")
	}
	if f.Changed("api-addr") {
		cfg.API.Addr, _ = f.GetString("api-addr")
	}
	if noAPI, _ := f.GetBool("no-api"); noAPI {
		cfg.API.Addr = ""
	}

	if cfg.Source.URL == "" {
		return errors.New("no source URL: pass one as an argument or set source.url")
	}
	return cfg.Validate()
}

// runPlay plays one source until it ends, the session fails or ctx is
// cancelled.
func runPlay(ctx context.Context, cfg *config.Config, log *slog.Logger, live string) error {
	kind, err := cfg.Source.ResolvedKind()
	if err != nil {
		return err
	}
	pcfg, err := cfg.Playback.Resolve()
	if err != nil {
		return err
	}
	timing, err := newTiming(cfg.Sink)
	if err != nil {
		return err
	}
	out, closeOut, err := openOutput(cfg.Sink.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	mgr := stream.NewManager(log)
	if err := prometheus.Register(metrics.NewSessionCollector(mgr)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	key := cfg.Source.Key()
	id := uuid.NewString()
	plog := logging.WithSession(log, id, key)

	src, err := dialSource(ctx, cfg.Source, kind, plog)
	if err != nil {
		return err
	}

	buf := sink.NewBuffer(timing, plog)
	defer buf.Close()
	el := sink.NewElement(buf, out, plog)

	obs := metrics.NewObserver(key, pcfg.FrameRate)
	defer obs.Forget()
	session, err := playback.NewSession(pcfg, buf, el, obs, plog)
	if err != nil {
		src.Close()
		return err
	}
	p := pipeline.New(id, key, src, session, plog)
	if live != "" {
		p.Board().AutoLive(live)
	}

	plog.Info("playing",
		"url", cfg.Source.URL,
		"kind", kind,
		"preset", cfg.Playback.Preset,
		"timing", cfg.Sink.Timing,
		"api", cfg.API.Addr)

	g, gctx := errgroup.WithContext(ctx)
	playCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return mgr.Serve(playCtx, key, p)
	})
	g.Go(func() error {
		return el.Run(playCtx, cfg.Sink.RenderInterval)
	})
	if cfg.API.Addr != "" {
		g.Go(func() error {
			return api.NewServer(mgr, log).ListenAndServe(playCtx, cfg.API.Addr)
		})
	}

	err = g.Wait()
	st := p.Stats()
	plog.Info("stopped",
		"status", st.Playback.Status,
		"forwarded", st.Forwarded,
		"resets", st.Playback.Resets,
		"trims", st.Playback.Trims)
	return err
}

func newTiming(sc config.SinkConfig) (sink.Timing, error) {
	switch sc.Timing {
	case config.TimingFMP4:
		return sink.NewFMP4Timing(), nil
	case config.TimingFixed:
		return sink.NewFixedTiming(sc.SegmentDuration), nil
	default:
		return nil, fmt.Errorf("unknown sink timing %q", sc.Timing)
	}
}

// openOutput opens the render destination. An empty path discards output.
func openOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening output: %w", err)
	}
	return f, func() { f.Close() }, nil
}
