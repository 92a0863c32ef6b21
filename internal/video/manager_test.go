package video

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeVideo struct {
	mu       sync.Mutex
	paused   bool
	attached bool
	playErr  error
}

func newVideo() *fakeVideo { return &fakeVideo{paused: true, attached: true} }

func (v *fakeVideo) Play(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playErr != nil {
		return v.playErr
	}
	v.paused = false
	return nil
}

func (v *fakeVideo) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
}

func (v *fakeVideo) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *fakeVideo) Attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attached
}

func (v *fakeVideo) detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attached = false
}

func TestPlay_Exclusive(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	ctx := context.Background()
	a, b := newVideo(), newVideo()

	m.Play(ctx, "a", a)
	if !m.IsPlaying("a") {
		t.Fatal("IsPlaying(a) = false after Play")
	}

	m.Play(ctx, "b", b)
	if !a.Paused() {
		t.Error("a still playing after b started")
	}
	playing := 0
	for _, id := range []string{"a", "b"} {
		if m.IsPlaying(id) {
			playing++
		}
	}
	if playing != 1 || !m.IsPlaying("b") {
		t.Errorf("playing count = %d (b playing %v), want exactly b", playing, m.IsPlaying("b"))
	}
}

// gatedVideo holds Play until gate is closed.
type gatedVideo struct {
	*fakeVideo
	entered chan struct{}
	gate    chan struct{}
}

func (v *gatedVideo) Play(ctx context.Context) error {
	close(v.entered)
	<-v.gate
	return v.fakeVideo.Play(ctx)
}

func TestPlay_SlowStartDoesNotOverlap(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	ctx := context.Background()
	a := &gatedVideo{fakeVideo: newVideo(), entered: make(chan struct{}), gate: make(chan struct{})}
	b := newVideo()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Play(ctx, "a", a)
	}()
	<-a.entered
	m.Play(ctx, "b", b)
	close(a.gate)
	<-done

	if !a.Paused() || b.Paused() {
		t.Errorf("a.Paused=%v b.Paused=%v, want only b playing", a.Paused(), b.Paused())
	}
	if m.Current() != "b" || m.IsPlaying("a") || !m.IsPlaying("b") {
		t.Errorf("Current()=%q IsPlaying(a)=%v IsPlaying(b)=%v", m.Current(), m.IsPlaying("a"), m.IsPlaying("b"))
	}
}

func TestPlay_SlowStartAfterPauseAll(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	a := &gatedVideo{fakeVideo: newVideo(), entered: make(chan struct{}), gate: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Play(context.Background(), "a", a)
	}()
	<-a.entered
	m.PauseAll()
	close(a.gate)
	<-done

	if !a.Paused() || m.IsPlaying("a") {
		t.Errorf("a still playing after PauseAll")
	}
}

func TestPlay_SameIDReplay(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	a := newVideo()

	m.Play(context.Background(), "a", a)
	m.Play(context.Background(), "a", a)
	if !m.IsPlaying("a") || a.Paused() {
		t.Error("replaying the active id paused it")
	}
}

func TestPlay_RejectedIsSwallowed(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	v := newVideo()
	v.playErr = errors.New("autoplay blocked")

	m.Play(context.Background(), "v", v)

	if m.IsPlaying("v") {
		t.Error("IsPlaying() = true for a rejected play")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (still registered)", m.Len())
	}
}

func TestPause(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	a, b := newVideo(), newVideo()
	m.Play(context.Background(), "a", a)
	b.paused = false
	m.videos["b"] = b

	// pausing a non-active id leaves the marker alone
	m.Pause("b")
	if !b.Paused() || m.Current() != "a" {
		t.Errorf("Pause(b): b paused %v current %q", b.Paused(), m.Current())
	}

	m.Pause("a")
	if !a.Paused() || m.Current() != "" {
		t.Errorf("Pause(a): a paused %v current %q", a.Paused(), m.Current())
	}
}

func TestPauseAll(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	ctx := context.Background()
	vids := map[string]*fakeVideo{"a": newVideo(), "b": newVideo(), "c": newVideo()}
	for id, v := range vids {
		m.Play(ctx, id, v)
		v.paused = false
	}

	m.PauseAll()

	for id, v := range vids {
		if m.IsPlaying(id) {
			t.Errorf("IsPlaying(%s) = true after PauseAll", id)
		}
		if !v.Paused() {
			t.Errorf("%s not paused", id)
		}
	}
	if m.IsPlaying("unknown") {
		t.Error("IsPlaying(unknown) = true")
	}
}

func TestSweep_EvictsDetached(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()
	ctx := context.Background()
	a, b := newVideo(), newVideo()
	m.Play(ctx, "a", a)
	m.Play(ctx, "b", b)

	b.detach()
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if m.Current() != "" {
		t.Errorf("Current() = %q, want cleared after evicting the active video", m.Current())
	}
}

func TestSweepLoop(t *testing.T) {
	m := NewManager(2 * time.Millisecond)
	defer m.Close()
	v := newVideo()
	m.Play(context.Background(), "v", v)
	v.detach()

	deadline := time.Now().Add(time.Second)
	for m.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.Len() != 0 {
		t.Error("periodic sweep did not evict the detached video")
	}
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(time.Hour)
	v := newVideo()
	m.Play(context.Background(), "v", v)
	m.Close()
	m.Close()
	if !v.Paused() {
		t.Error("Close() did not pause videos")
	}
}
