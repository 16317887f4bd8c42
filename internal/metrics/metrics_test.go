package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/livebuf/internal/pipeline"
	"github.com/zsiec/livebuf/internal/stream"
	"github.com/zsiec/livebuf/media"
	"github.com/zsiec/livebuf/playback"
	"github.com/zsiec/livebuf/source"
)

func TestObserver(t *testing.T) {
	o := NewObserver("obs-test", 24)

	o.OnHealth(playback.Health{Range: media.Range{Start: 0, End: 1}, Position: 0.5, Buffered: 0.5})
	if got := testutil.ToFloat64(BufferHealth.WithLabelValues("obs-test")); got != 0.5 {
		t.Errorf("BufferHealth = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(BufferedFrames.WithLabelValues("obs-test")); got != 12 {
		t.Errorf("BufferedFrames = %v, want 12", got)
	}

	o.OnReset(1)
	o.OnReset(2)
	if got := testutil.ToFloat64(DriftResets.WithLabelValues("obs-test")); got != 2 {
		t.Errorf("DriftResets = %v, want 2", got)
	}

	o.OnStatus(playback.StatusPlaying)
	o.OnStatus(playback.StatusError)
	if got := testutil.ToFloat64(StatusChanges.WithLabelValues("obs-test", "error")); got != 1 {
		t.Errorf("StatusChanges{error} = %v, want 1", got)
	}

	o.Forget()
	if n := testutil.CollectAndCount(BufferHealth, "livebuf_buffer_health_seconds"); n != 0 {
		t.Errorf("BufferHealth series after Forget = %d, want 0", n)
	}
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		playback.StatusPlaying:    "playing",
		playback.StatusPlayFailed: "play_failed",
		playback.StatusAbort:      "abort",
		playback.StatusError:      "error",
		"something else":          "other",
	}
	for in, want := range tests {
		if got := StatusLabel(in); got != want {
			t.Errorf("StatusLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

type statsRunner struct{ stats pipeline.Stats }

func (r statsRunner) Run(ctx context.Context) error { return nil }

func (r statsRunner) Stats() pipeline.Stats { return r.stats }

func TestSessionCollector(t *testing.T) {
	t.Parallel()

	m := stream.NewManager(nil)
	m.Create("cam1", statsRunner{stats: pipeline.Stats{
		Playback: playback.Stats{QueueDepth: 3, Submitted: 10, Trims: 2, TrimmedSeconds: 1.5},
		Source:   source.Stats{BytesReceived: 4096, Malformed: 1},
	}})
	m.Create("cam2", statsRunner{})

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewSessionCollector(m))

	expected := `
# HELP livebuf_sessions_active Number of running playback sessions
# TYPE livebuf_sessions_active gauge
livebuf_sessions_active 2
# HELP livebuf_queue_depth Segments waiting for the sink
# TYPE livebuf_queue_depth gauge
livebuf_queue_depth{stream="cam1"} 3
livebuf_queue_depth{stream="cam2"} 0
# HELP livebuf_trimmed_seconds_total Media evicted by retention trims
# TYPE livebuf_trimmed_seconds_total counter
livebuf_trimmed_seconds_total{stream="cam1"} 1.5
livebuf_trimmed_seconds_total{stream="cam2"} 0
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"livebuf_sessions_active", "livebuf_queue_depth", "livebuf_trimmed_seconds_total")
	if err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(NewSessionCollector(m), "livebuf_source_bytes_total"); n != 2 {
		t.Errorf("source bytes series = %d, want 2", n)
	}
}
