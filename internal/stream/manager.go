// Package stream tracks running playback sessions by stream key for the
// status API and the CLI.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/livebuf/internal/pipeline"
)

// ErrDuplicate is returned when a session is already running for a key.
var ErrDuplicate = errors.New("stream: session already running")

// Runner is the part of a pipeline the manager drives.
type Runner interface {
	Run(ctx context.Context) error
	Stats() pipeline.Stats
}

type identified interface {
	ID() string
}

// Stream is one registered session.
type Stream struct {
	ID        string
	Key       string
	StartedAt time.Time
	runner    Runner
	done      chan struct{}
}

// Runner returns the pipeline driving the stream.
func (s *Stream) Runner() Runner { return s.runner }

// Done is closed when the stream is removed from its manager.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Info is the JSON view of a stream.
type Info struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	StartedAt time.Time      `json:"startedAt"`
	Stats     pipeline.Stats `json:"stats"`
}

// Info returns the stream's identity and a fresh stats snapshot.
func (s *Stream) Info() Info {
	return Info{
		ID:        s.ID,
		Key:       s.Key,
		StartedAt: s.StartedAt,
		Stats:     s.runner.Stats(),
	}
}

// Manager manages the lifecycle of running sessions.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream

	completed atomic.Int64
	failed    atomic.Int64
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a session under key. The stream takes the runner's ID
// when it has one. Returns the stream and true if created, or nil and
// false if a session with this key already exists.
func (m *Manager) Create(key string, r Runner) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	id := ""
	if r, ok := r.(identified); ok {
		id = r.ID()
	}
	if id == "" {
		id = uuid.NewString()
	}
	s := &Stream{
		ID:        id,
		Key:       key,
		StartedAt: time.Now(),
		runner:    r,
		done:      make(chan struct{}),
	}
	m.streams[key] = s
	m.log.Info("stream created", "key", key, "id", s.ID)
	return s, true
}

// Remove removes a stream from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("stream removed", "key", key, "id", s.ID)
	}
}

// Get returns the stream registered under key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// List returns all running streams ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(streams, func(a, b *Stream) int { return strings.Compare(a.Key, b.Key) })
	return streams
}

// Len returns the number of running streams.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// Serve registers r under key, runs it until it returns and then removes
// it.
func (m *Manager) Serve(ctx context.Context, key string, r Runner) error {
	s, ok := m.Create(key, r)
	if !ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, key)
	}
	defer m.Remove(key)

	err := r.Run(ctx)
	if err != nil {
		m.failed.Add(1)
		m.log.Error("session failed", "key", key, "id", s.ID, "error", err)
		return err
	}
	m.completed.Add(1)
	return nil
}

// Finished returns how many served sessions ended cleanly and how many
// failed.
func (m *Manager) Finished() (completed, failed int64) {
	return m.completed.Load(), m.failed.Load()
}
