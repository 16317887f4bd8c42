// Package config provides configuration management for livebuf using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/livebuf/playback"
)

// Default configuration values.
const (
	defaultAPIAddr         = "127.0.0.1:9090"
	defaultSegmentDuration = 100 * time.Millisecond
	defaultRenderInterval  = 20 * time.Millisecond
	defaultDialTimeout     = 10 * time.Second
	defaultStreamKey       = "default"
)

// Source kinds.
const (
	KindHTTP      = "http"
	KindSRT       = "srt"
	KindWebSocket = "ws"
	KindQUIC      = "quic"
)

// Sink timings.
const (
	TimingFMP4  = "fmp4"
	TimingFixed = "fixed"
)

// playbackOverrides are the playback keys that replace preset values only
// when explicitly set.
var playbackOverrides = []string{
	"high_watermark",
	"safety_margin",
	"retention_ceiling",
	"health_report_interval",
	"queue_limit",
	"gate_on_playing",
	"frame_rate",
}

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Source   SourceConfig   `mapstructure:"source"`
	Sink     SinkConfig     `mapstructure:"sink"`
	API      APIConfig      `mapstructure:"api"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// PlaybackConfig selects a controller preset and optionally overrides its
// thresholds.
type PlaybackConfig struct {
	Preset               string        `mapstructure:"preset"`
	HighWatermark        time.Duration `mapstructure:"high_watermark"`
	SafetyMargin         time.Duration `mapstructure:"safety_margin"`
	RetentionCeiling     time.Duration `mapstructure:"retention_ceiling"`
	HealthReportInterval time.Duration `mapstructure:"health_report_interval"`
	QueueLimit           int           `mapstructure:"queue_limit"`
	GateOnPlaying        bool          `mapstructure:"gate_on_playing"`
	FrameRate            float64       `mapstructure:"frame_rate"`

	set map[string]bool
}

// Override marks a playback key as explicitly set, so Resolve applies it
// over the preset.
func (p *PlaybackConfig) Override(key string) {
	if p.set == nil {
		p.set = make(map[string]bool)
	}
	p.set[key] = true
}

// Resolve returns the preset with every explicitly set key applied.
func (p PlaybackConfig) Resolve() (playback.Config, error) {
	name := p.Preset
	if name == "" {
		name = playback.DefaultPreset
	}
	cfg, err := playback.Preset(name)
	if err != nil {
		return playback.Config{}, err
	}
	if p.set["high_watermark"] {
		cfg.HighWatermark = p.HighWatermark
	}
	if p.set["safety_margin"] {
		cfg.SafetyMargin = p.SafetyMargin
	}
	if p.set["retention_ceiling"] {
		cfg.RetentionCeiling = p.RetentionCeiling
	}
	if p.set["health_report_interval"] {
		cfg.HealthReportInterval = p.HealthReportInterval
	}
	if p.set["queue_limit"] {
		cfg.QueueLimit = p.QueueLimit
	}
	if p.set["gate_on_playing"] {
		cfg.GateOnPlaying = p.GateOnPlaying
	}
	if p.set["frame_rate"] {
		cfg.FrameRate = p.FrameRate
	}
	return cfg, cfg.Validate()
}

// SourceConfig describes where segments come from.
type SourceConfig struct {
	URL         string        `mapstructure:"url"`
	Kind        string        `mapstructure:"kind"` // http, srt, ws, quic; empty infers from the URL scheme
	Multiplexed bool          `mapstructure:"multiplexed"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	StreamID    string        `mapstructure:"stream_id"`
	CertHash    string        `mapstructure:"cert_hash"`
	Watch       string        `mapstructure:"watch"`
}

// ResolvedKind returns the configured kind, or the one implied by the URL
// scheme.
func (s SourceConfig) ResolvedKind() (string, error) {
	if s.Kind != "" {
		return s.Kind, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("source.url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return KindHTTP, nil
	case "srt":
		return KindSRT, nil
	case "ws", "wss":
		return KindWebSocket, nil
	case "quic":
		return KindQUIC, nil
	default:
		return "", fmt.Errorf("source.url: cannot infer source kind from scheme %q", u.Scheme)
	}
}

// Key returns the stream key the session registers under.
func (s SourceConfig) Key() string {
	if s.Watch != "" {
		return s.Watch
	}
	return defaultStreamKey
}

// SinkConfig configures the reference sink.
type SinkConfig struct {
	Timing          string        `mapstructure:"timing"` // fmp4, fixed
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	Output          string        `mapstructure:"output"` // file path, "-" for stdout, empty to discard
	RenderInterval  time.Duration `mapstructure:"render_interval"`
}

// APIConfig configures the status API. An empty address disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIVEBUF_ and use underscores for nesting.
// Example: LIVEBUF_PLAYBACK_PRESET=camera.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("livebuf")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.livebuf")
		v.AddConfigPath("/etc/livebuf")
	}

	v.SetEnvPrefix("LIVEBUF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range playbackOverrides {
		if err := v.BindEnv("playback." + key); err != nil {
			return nil, fmt.Errorf("binding env: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for _, key := range playbackOverrides {
		if v.IsSet("playback." + key) {
			cfg.Playback.Override(key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Playback thresholds have no defaults: they come from the preset unless
// set explicitly.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("playback.preset", playback.DefaultPreset)

	v.SetDefault("source.url", "")
	v.SetDefault("source.kind", "")
	v.SetDefault("source.multiplexed", true)
	v.SetDefault("source.chunk_size", 0)
	v.SetDefault("source.dial_timeout", defaultDialTimeout)
	v.SetDefault("source.stream_id", "")
	v.SetDefault("source.cert_hash", "")
	v.SetDefault("source.watch", "")

	v.SetDefault("sink.timing", TimingFMP4)
	v.SetDefault("sink.segment_duration", defaultSegmentDuration)
	v.SetDefault("sink.output", "")
	v.SetDefault("sink.render_interval", defaultRenderInterval)

	v.SetDefault("api.addr", defaultAPIAddr)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if _, err := c.Playback.Resolve(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}

	validKinds := map[string]bool{"": true, KindHTTP: true, KindSRT: true, KindWebSocket: true, KindQUIC: true}
	if !validKinds[c.Source.Kind] {
		return fmt.Errorf("source.kind must be one of: http, srt, ws, quic")
	}
	if c.Source.ChunkSize < 0 {
		return fmt.Errorf("source.chunk_size must not be negative")
	}
	if c.Source.DialTimeout < 0 {
		return fmt.Errorf("source.dial_timeout must not be negative")
	}

	validTimings := map[string]bool{TimingFMP4: true, TimingFixed: true}
	if !validTimings[c.Sink.Timing] {
		return fmt.Errorf("sink.timing must be one of: fmp4, fixed")
	}
	if c.Sink.Timing == TimingFixed && c.Sink.SegmentDuration <= 0 {
		return fmt.Errorf("sink.segment_duration must be positive for fixed timing")
	}
	if c.Sink.RenderInterval <= 0 {
		return fmt.Errorf("sink.render_interval must be positive")
	}
	return nil
}
