package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/livebuf/internal/pipeline"
)

type stubRunner struct {
	key     string
	err     error
	started chan struct{}
	release chan struct{}
}

func newStubRunner(key string) *stubRunner {
	return &stubRunner{key: key, started: make(chan struct{}), release: make(chan struct{})}
}

func (r *stubRunner) Run(ctx context.Context) error {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return r.err
}

func (r *stubRunner) Stats() pipeline.Stats { return pipeline.Stats{Key: r.key} }

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("test-stream", newStubRunner("test-stream"))
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s.Key != "test-stream" {
		t.Errorf("key: got %q, want %q", s.Key, "test-stream")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", s.ID, err)
	}

	got, ok := m.Get("test-stream")
	if !ok || got != s {
		t.Error("Get should return the created stream")
	}
	if info := got.Info(); info.Stats.Key != "test-stream" || info.ID != s.ID {
		t.Errorf("Info = %+v", info)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get should miss unknown keys")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("test", newStubRunner("test")); !ok {
		t.Fatal("first Create should succeed")
	}
	s2, ok := m.Create("test", newStubRunner("test"))
	if ok || s2 != nil {
		t.Error("duplicate Create should return nil, false")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("test", newStubRunner("test"))
	m.Remove("test")
	m.Remove("test")

	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed after Remove")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestManagerListSorted(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for _, k := range []string{"c", "a", "b"} {
		m.Create(k, newStubRunner(k))
	}
	var keys []string
	for _, s := range m.List() {
		keys = append(keys, s.Key)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("List keys = %v", keys)
	}
}

func TestManagerServe(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	ctx := context.Background()

	r := newStubRunner("cam")
	served := make(chan error, 1)
	go func() { served <- m.Serve(ctx, "cam", r) }()
	<-r.started

	if _, ok := m.Get("cam"); !ok {
		t.Fatal("served stream should be registered")
	}
	if err := m.Serve(ctx, "cam", newStubRunner("cam")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Serve: got %v, want ErrDuplicate", err)
	}

	close(r.release)
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	if m.Len() != 0 {
		t.Error("stream should be removed after Serve returns")
	}

	failing := newStubRunner("cam")
	failing.err = errors.New("sink fault")
	close(failing.release)
	if err := m.Serve(ctx, "cam", failing); err == nil {
		t.Error("Serve should return the runner's error")
	}

	completed, failed := m.Finished()
	if completed != 1 || failed != 1 {
		t.Errorf("Finished = %d, %d; want 1, 1", completed, failed)
	}
}

type idRunner struct{ *stubRunner }

func (idRunner) ID() string { return "session-1" }

func TestManagerUsesRunnerID(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("cam", idRunner{newStubRunner("cam")})
	if !ok {
		t.Fatal("Create failed")
	}
	if s.ID != "session-1" {
		t.Errorf("ID = %q, want session-1", s.ID)
	}
}
