// Package metrics exposes playback sessions to Prometheus. Event-driven
// series (buffer health, drift resets, status changes) are fed by an
// Observer per session; counters kept by the sessions themselves are read
// at scrape time by SessionCollector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/livebuf/internal/stream"
	"github.com/zsiec/livebuf/playback"
)

var (
	// BufferHealth is the buffered media ahead of the playback position,
	// sampled after each append.
	BufferHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livebuf_buffer_health_seconds",
		Help: "Buffered media ahead of the playback position",
	}, []string{"stream"})

	// BufferedFrames is BufferHealth expressed in frames at the session's
	// frame rate.
	BufferedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livebuf_buffered_frames",
		Help: "Buffered media ahead of the playback position, in frames",
	}, []string{"stream"})

	// DriftResets counts drift corrections.
	DriftResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livebuf_drift_resets_total",
		Help: "Total number of seeks toward the live edge",
	}, []string{"stream"})

	// StatusChanges counts user-visible status transitions.
	StatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livebuf_status_changes_total",
		Help: "Total number of playback status changes by status",
	}, []string{"stream", "status"})
)

// StatusLabel maps a playback status string to a metric label value.
func StatusLabel(status string) string {
	switch status {
	case playback.StatusPlaying:
		return "playing"
	case playback.StatusPlayFailed:
		return "play_failed"
	case playback.StatusAbort:
		return "abort"
	case playback.StatusError:
		return "error"
	default:
		return "other"
	}
}

// Observer records one session's state changes.
type Observer struct {
	stream string
	fps    float64
}

// NewObserver creates an observer for the session playing stream at fps.
func NewObserver(stream string, fps float64) *Observer {
	return &Observer{stream: stream, fps: fps}
}

func (o *Observer) OnStatus(status string) {
	StatusChanges.WithLabelValues(o.stream, StatusLabel(status)).Inc()
}

func (o *Observer) OnHealth(h playback.Health) {
	BufferHealth.WithLabelValues(o.stream).Set(h.Buffered)
	BufferedFrames.WithLabelValues(o.stream).Set(float64(h.Frames(o.fps)))
}

func (o *Observer) OnReset(int) {
	DriftResets.WithLabelValues(o.stream).Inc()
}

// Forget drops the stream's gauges once its session has ended. Counters
// are kept so rates stay continuous across reconnects.
func (o *Observer) Forget() {
	BufferHealth.DeleteLabelValues(o.stream)
	BufferedFrames.DeleteLabelValues(o.stream)
}

// SessionCollector reports the counters of every registered session.
type SessionCollector struct {
	streams *stream.Manager

	active        *prometheus.Desc
	queueDepth    *prometheus.Desc
	queuePeak     *prometheus.Desc
	submitted     *prometheus.Desc
	submittedSize *prometheus.Desc
	trims         *prometheus.Desc
	trimmed       *prometheus.Desc
	received      *prometheus.Desc
	malformed     *prometheus.Desc
}

// NewSessionCollector creates a collector over the sessions in streams.
func NewSessionCollector(streams *stream.Manager) *SessionCollector {
	labels := []string{"stream"}
	return &SessionCollector{
		streams:       streams,
		active:        prometheus.NewDesc("livebuf_sessions_active", "Number of running playback sessions", nil, nil),
		queueDepth:    prometheus.NewDesc("livebuf_queue_depth", "Segments waiting for the sink", labels, nil),
		queuePeak:     prometheus.NewDesc("livebuf_queue_peak", "Highest queue depth seen", labels, nil),
		submitted:     prometheus.NewDesc("livebuf_segments_appended_total", "Segments handed to the sink", labels, nil),
		submittedSize: prometheus.NewDesc("livebuf_appended_bytes_total", "Bytes handed to the sink", labels, nil),
		trims:         prometheus.NewDesc("livebuf_trims_total", "Retention trims applied", labels, nil),
		trimmed:       prometheus.NewDesc("livebuf_trimmed_seconds_total", "Media evicted by retention trims", labels, nil),
		received:      prometheus.NewDesc("livebuf_source_bytes_total", "Bytes read from the source transport", labels, nil),
		malformed:     prometheus.NewDesc("livebuf_source_malformed_total", "Malformed frames discarded", labels, nil),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.active, c.queueDepth, c.queuePeak, c.submitted, c.submittedSize,
		c.trims, c.trimmed, c.received, c.malformed,
	} {
		ch <- d
	}
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	streams := c.streams.List()
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(len(streams)))
	for _, s := range streams {
		st := s.Info().Stats
		key := s.Key
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(st.Playback.QueueDepth), key)
		ch <- prometheus.MustNewConstMetric(c.queuePeak, prometheus.GaugeValue, float64(st.Playback.QueuePeak), key)
		ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(st.Playback.Submitted), key)
		ch <- prometheus.MustNewConstMetric(c.submittedSize, prometheus.CounterValue, float64(st.Playback.SubmittedBytes), key)
		ch <- prometheus.MustNewConstMetric(c.trims, prometheus.CounterValue, float64(st.Playback.Trims), key)
		ch <- prometheus.MustNewConstMetric(c.trimmed, prometheus.CounterValue, st.Playback.TrimmedSeconds, key)
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(st.Source.BytesReceived), key)
		ch <- prometheus.MustNewConstMetric(c.malformed, prometheus.CounterValue, float64(st.Source.Malformed), key)
	}
}
