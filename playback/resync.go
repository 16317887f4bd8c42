package playback

// StartState is the one-way cold-start state of a session.
type StartState int

// Cold-start states.
const (
	NotStarted StartState = iota
	Started
)

func (s StartState) String() string {
	if s == Started {
		return "started"
	}
	return "not-started"
}

// Resync performs cold-start alignment and drift correction. High and
// margin are in seconds; a zero high watermark disables correction.
type Resync struct {
	high   float64
	margin float64
	gate   bool

	state  StartState
	resets int
}

// NewResync builds the controller from cfg.
func NewResync(cfg Config) *Resync {
	return &Resync{
		high:   seconds(cfg.HighWatermark),
		margin: seconds(cfg.SafetyMargin),
		gate:   cfg.GateOnPlaying,
	}
}

// Align fires at most once per session, the first time buffered data
// exists. If nothing has played yet the clock jumps to the oldest
// buffered time. It reports whether the clock was moved.
func (r *Resync) Align(h Health, clock Clock) bool {
	if r.state == Started || h.Range.Empty() {
		return false
	}
	r.state = Started
	if clock.Played() {
		return false
	}
	clock.Seek(h.Range.Start)
	return true
}

// Correct jumps the clock to end-margin when more than the high watermark
// is buffered ahead of it and the landing point is already buffered.
// Playing only matters when the controller is gated on playback.
func (r *Resync) Correct(h Health, clock Clock, playing bool) (float64, bool) {
	if r.high <= 0 || h.Range.Empty() {
		return 0, false
	}
	if r.gate && !playing {
		return 0, false
	}
	if !(h.Buffered > r.high) {
		return 0, false
	}
	target := h.Range.End - r.margin
	if h.Range.Start > target {
		return 0, false
	}
	clock.Seek(target)
	r.resets++
	return target, true
}

// State returns the cold-start state.
func (r *Resync) State() StartState { return r.state }

// Resets returns how many drift corrections have fired.
func (r *Resync) Resets() int { return r.resets }
