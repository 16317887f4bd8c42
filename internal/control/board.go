// Package control tracks the operator-facing state carried by control
// frames (status text, the set of selectable controls and their zoom
// state) and sends operator commands back over a source's back-channel.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/zsiec/livebuf/media"
)

// Frame geometry used to convert between zoom factors and crop sizes.
const (
	FrameWidth  = 3840.0
	FrameHeight = 2160.0
)

var (
	// ErrNoCommander is returned by command methods when the board has no
	// back-channel.
	ErrNoCommander = errors.New("control: no command back-channel")
	// ErrUnknownControl is returned for commands naming a control the
	// server never announced.
	ErrUnknownControl = errors.New("control: unknown control")
	// ErrNotControlFrame is returned by Handle for media frames.
	ErrNotControlFrame = errors.New("control: not a control frame")
	// ErrInvalidArgument is returned for names or zoom values that cannot
	// be carried in a command.
	ErrInvalidArgument = errors.New("control: invalid argument")
)

// Commander sends a text command upstream.
type Commander interface {
	Command(cmd string) error
}

// Zoom is the crop window of one control.
type Zoom struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Factor returns the zoom factor implied by the crop width, or 0 when the
// width is unset.
func (z Zoom) Factor() float64 {
	if z.Width <= 0 {
		return 0
	}
	return FrameWidth / z.Width
}

// State is the server-side state of one control.
type State struct {
	Zoom Zoom `json:"zoom"`
}

// Snapshot is the full state document carried by a control-state frame,
// keyed by control name.
type Snapshot map[string]State

// Stats summarizes a board for the status API.
type Stats struct {
	Status   string   `json:"status"`
	Controls []string `json:"controls"`
	Live     string   `json:"live,omitempty"`
	Updates  int64    `json:"updates"`
	Commands int64    `json:"commands"`
	Invalid  int64    `json:"invalid"`
}

// Board accumulates control frames for one session.
type Board struct {
	log *slog.Logger
	cmd Commander

	mu       sync.Mutex
	status   string
	controls []string
	state    Snapshot
	autoLive string
	live     string
	updates  int64
	commands int64
	invalid  int64
}

// NewBoard creates a board. cmd may be nil for sources without a
// back-channel; commands then fail with ErrNoCommander.
func NewBoard(cmd Commander, log *slog.Logger) *Board {
	if log == nil {
		log = slog.Default()
	}
	return &Board{
		log:   log.With("component", "control"),
		cmd:   cmd,
		state: make(Snapshot),
	}
}

// AutoLive makes the board send "live <name>" as soon as the named
// control is announced.
func (b *Board) AutoLive(name string) {
	b.mu.Lock()
	b.autoLive = name
	announced := slices.Contains(b.controls, name)
	b.mu.Unlock()
	if announced {
		if err := b.Live(name); err != nil {
			b.log.Warn("auto live failed", "control", name, "error", err)
		}
	}
}

// Handle applies a control frame. Malformed state documents are counted
// and returned; the board keeps its previous state.
func (b *Board) Handle(f media.Frame) error {
	switch f.Type {
	case media.FrameStatus:
		b.mu.Lock()
		b.status = string(f.Payload)
		b.updates++
		b.mu.Unlock()
		b.log.Debug("status", "message", string(f.Payload))
		return nil

	case media.FrameControlList:
		return b.announce(strings.TrimSpace(string(f.Payload)))

	case media.FrameControlState:
		var snap Snapshot
		if err := json.Unmarshal(f.Payload, &snap); err != nil {
			b.mu.Lock()
			b.invalid++
			b.mu.Unlock()
			return fmt.Errorf("control: decode state: %w", err)
		}
		b.mu.Lock()
		for name, st := range snap {
			b.state[name] = st
		}
		b.updates++
		b.mu.Unlock()
		return nil

	default:
		return ErrNotControlFrame
	}
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\r\n")
}

func (b *Board) announce(name string) error {
	if !validName(name) {
		b.mu.Lock()
		b.invalid++
		b.mu.Unlock()
		return fmt.Errorf("%w: control name %q", ErrInvalidArgument, name)
	}

	b.mu.Lock()
	b.updates++
	if slices.Contains(b.controls, name) {
		b.mu.Unlock()
		return nil
	}
	b.controls = append(b.controls, name)
	auto := b.autoLive == name
	b.mu.Unlock()

	b.log.Info("control announced", "control", name)
	if auto {
		return b.Live(name)
	}
	return nil
}

// Status returns the latest status message.
func (b *Board) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Controls returns the announced controls in announcement order.
func (b *Board) Controls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.controls)
}

// State returns the last known state of a control.
func (b *Board) State(name string) (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[name]
	return st, ok
}

// Live asks the server to switch the live output to the named control.
func (b *Board) Live(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: control name %q", ErrInvalidArgument, name)
	}
	if err := b.send("live " + name); err != nil {
		return err
	}
	b.mu.Lock()
	b.live = name
	b.mu.Unlock()
	return nil
}

// Scene asks the server to switch to a named scene. Scenes are not
// announced as controls, so any name is accepted.
func (b *Board) Scene(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: scene name %q", ErrInvalidArgument, name)
	}
	return b.send("scene " + name)
}

// SetZoom sets the crop window of a control from a position and a zoom
// factor.
func (b *Board) SetZoom(name string, x, y, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("%w: zoom factor %v", ErrInvalidArgument, factor)
	}
	b.mu.Lock()
	known := slices.Contains(b.controls, name)
	b.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownControl, name)
	}
	return b.send(ZoomCommand(name, Zoom{
		X:      x,
		Y:      y,
		Width:  FrameWidth / factor,
		Height: FrameHeight / factor,
	}))
}

// ZoomCommand formats the zoom command for a control.
func ZoomCommand(name string, z Zoom) string {
	return strings.Join([]string{"zoom", name, num(z.X), num(z.Y), num(z.Width), num(z.Height)}, " ")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (b *Board) send(cmd string) error {
	if b.cmd == nil {
		return ErrNoCommander
	}
	if err := b.cmd.Command(cmd); err != nil {
		return fmt.Errorf("control: send %q: %w", cmd, err)
	}
	b.mu.Lock()
	b.commands++
	b.mu.Unlock()
	b.log.Info("command sent", "command", cmd)
	return nil
}

// Stats returns a snapshot of the board.
func (b *Board) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Status:   b.status,
		Controls: slices.Clone(b.controls),
		Live:     b.live,
		Updates:  b.updates,
		Commands: b.commands,
		Invalid:  b.invalid,
	}
}
