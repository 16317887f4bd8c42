package playback

import (
	"fmt"
	"slices"
	"time"

	"github.com/zsiec/livebuf/media"
)

// Config parameterizes one playback session.
type Config struct {
	// HighWatermark triggers drift correction when the buffered duration
	// ahead of the playback position exceeds it. Zero disables correction.
	HighWatermark time.Duration
	// SafetyMargin is how far behind the buffered end a correction lands.
	SafetyMargin time.Duration
	// RetentionCeiling bounds the retained span of buffered media. Zero
	// disables trimming.
	RetentionCeiling time.Duration
	// HealthReportInterval is the cadence of the outbound "buffer" report.
	// Zero disables periodic reporting.
	HealthReportInterval time.Duration
	// QueueLimit bounds the append queue. Zero means unbounded.
	QueueLimit int
	// GateOnPlaying suppresses drift correction until the surface has
	// started playing.
	GateOnPlaying bool
	// FrameRate converts buffered seconds to frames for display.
	FrameRate float64
}

// Presets collapse the historical per-surface threshold pairs into
// configurations of one controller.
var presets = map[string]Config{
	"coarse": {
		HighWatermark:        600 * time.Millisecond,
		SafetyMargin:         300 * time.Millisecond,
		HealthReportInterval: 50 * time.Millisecond,
		QueueLimit:           media.QueueLimit,
		FrameRate:            24,
	},
	"aggressive": {
		HighWatermark:        300 * time.Millisecond,
		SafetyMargin:         50 * time.Millisecond,
		HealthReportInterval: 50 * time.Millisecond,
		QueueLimit:           media.QueueLimit,
		FrameRate:            24,
	},
	"camera": {
		HighWatermark: 500 * time.Millisecond,
		SafetyMargin:  250 * time.Millisecond,
		QueueLimit:    media.QueueLimit,
		GateOnPlaying: true,
		FrameRate:     24,
	},
	"preview": {
		HighWatermark:        500 * time.Millisecond,
		SafetyMargin:         250 * time.Millisecond,
		HealthReportInterval: 50 * time.Millisecond,
		QueueLimit:           media.QueueLimit,
		GateOnPlaying:        true,
		FrameRate:            24,
	},
	"webcam": {
		HighWatermark:    500 * time.Millisecond,
		SafetyMargin:     250 * time.Millisecond,
		RetentionCeiling: 5 * time.Second,
		QueueLimit:       media.QueueLimit,
		FrameRate:        24,
	},
	"audio": {
		QueueLimit: media.QueueLimit,
	},
}

// DefaultPreset is used when no preset is named.
const DefaultPreset = "coarse"

// Preset returns the named configuration.
func Preset(name string) (Config, error) {
	cfg, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown playback preset %q (known: %v)", name, PresetNames())
	}
	return cfg, nil
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig returns the default preset.
func DefaultConfig() Config {
	return presets[DefaultPreset]
}

// Validate checks that a drift correction always lands inside the
// buffered range and cannot immediately re-trigger.
func (c Config) Validate() error {
	if c.HighWatermark < 0 || c.SafetyMargin < 0 || c.RetentionCeiling < 0 {
		return fmt.Errorf("playback: thresholds must not be negative")
	}
	if c.HighWatermark > 0 {
		if c.SafetyMargin <= 0 {
			return fmt.Errorf("playback: safety margin must be positive when drift correction is enabled")
		}
		if c.SafetyMargin >= c.HighWatermark {
			return fmt.Errorf("playback: safety margin %s must be below high watermark %s", c.SafetyMargin, c.HighWatermark)
		}
	}
	if c.RetentionCeiling > 0 && c.RetentionCeiling <= c.SafetyMargin {
		return fmt.Errorf("playback: retention ceiling %s must exceed safety margin %s", c.RetentionCeiling, c.SafetyMargin)
	}
	if c.HealthReportInterval < 0 {
		return fmt.Errorf("playback: health report interval must not be negative")
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("playback: queue limit must not be negative")
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("playback: frame rate must not be negative")
	}
	return nil
}

func seconds(d time.Duration) float64 { return d.Seconds() }
