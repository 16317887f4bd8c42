package playback

import (
	"errors"
	"fmt"
)

// Sentinel errors for session termination. Callers distinguish them with
// errors.Is.
var (
	ErrSinkAborted  = errors.New("playback: sink aborted")
	ErrSinkFault    = errors.New("playback: sink error")
	ErrQueueOverrun = errors.New("playback: append queue overrun")
	ErrHalted       = errors.New("playback: session halted")
)

// SinkError records a fault reported by the sink. It unwraps to both the
// matching sentinel and the sink's own cause.
type SinkError struct {
	Kind SinkEventKind
	Err  error
}

func (e *SinkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("playback: sink %s", e.Kind)
	}
	return fmt.Sprintf("playback: sink %s: %v", e.Kind, e.Err)
}

func (e *SinkError) Unwrap() []error {
	sentinel := ErrSinkFault
	if e.Kind == EventAbort {
		sentinel = ErrSinkAborted
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}
