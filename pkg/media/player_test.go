package media

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSink) record(ev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) Play(url string) error { return f.record("play " + url) }
func (f *fakeSink) Pause() error          { return f.record("pause") }
func (f *fakeSink) Resume() error         { return f.record("resume") }
func (f *fakeSink) Stop() error           { return f.record("stop") }

func (f *fakeSink) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestPlayerPauseResumePosition(t *testing.T) {
	sink := &fakeSink{}
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := NewPlayer(sink)
	p.now = clk.now

	require.NoError(t, p.Play("clip-1", 0))
	assert.Equal(t, PlayerPlaying, p.State())
	assert.Equal(t, "clip-1", p.Current())

	clk.tick(3 * time.Second)
	assert.Equal(t, 3*time.Second, p.Position())

	require.NoError(t, p.Pause())
	clk.tick(10 * time.Second)
	assert.Equal(t, 3*time.Second, p.Position(), "position freezes while paused")

	require.NoError(t, p.Resume())
	clk.tick(2 * time.Second)
	assert.Equal(t, 5*time.Second, p.Position())

	require.NoError(t, p.Stop())
	assert.Equal(t, PlayerIdle, p.State())
	assert.Zero(t, p.Position())
	assert.Empty(t, p.Current())
}

func TestPlayerOnlyOneClipAtATime(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink)

	require.NoError(t, p.Play("clip-1", 0))
	require.NoError(t, p.Play("clip-2", 0))

	assert.Equal(t, "clip-2", p.Current())
	assert.Equal(t, []string{"play clip-1", "stop", "play clip-2"}, sink.snapshot(),
		"starting a new clip stops the previous one first")
}

func TestPlayerStateErrors(t *testing.T) {
	p := NewPlayer(&fakeSink{})

	assert.ErrorIs(t, p.Pause(), ErrNothingPlaying)
	assert.ErrorIs(t, p.Resume(), ErrNothingPlaying)
	assert.ErrorIs(t, p.Stop(), ErrNothingPlaying)

	require.NoError(t, p.Play("clip-1", 0))
	require.NoError(t, p.Pause())
	assert.ErrorIs(t, p.Pause(), ErrAlreadyPaused)
}

func TestPlayerFiresOnDoneAtClipEnd(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink)

	done := make(chan string, 1)
	p.OnDone = func(url string) { done <- url }

	require.NoError(t, p.Play("clip-1", 20))
	select {
	case url := <-done:
		assert.Equal(t, "clip-1", url)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDone never fired")
	}
	assert.Equal(t, PlayerIdle, p.State())
}

func TestPlayerPauseDisarmsDoneTimer(t *testing.T) {
	p := NewPlayer(&fakeSink{})
	done := make(chan string, 1)
	p.OnDone = func(url string) { done <- url }

	require.NoError(t, p.Play("clip-1", 30))
	require.NoError(t, p.Pause())

	select {
	case <-done:
		t.Fatal("OnDone fired while paused")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, PlayerPaused, p.State())
}
