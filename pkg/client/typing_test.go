package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type typingLog struct {
	mu    sync.Mutex
	calls []bool
}

func (l *typingLog) send(v bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, v)
	return nil
}

func (l *typingLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTypingBurstSendsTwoBroadcasts(t *testing.T) {
	log := &typingLog{}
	tb := NewTypingBroadcaster(log.send, 30*time.Millisecond)

	// a burst of keystrokes well inside the debounce window
	for i := 0; i < 5; i++ {
		tb.Keystroke()
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, tb.Active())
	require.Equal(t, []bool{true}, log.snapshot(), "only the first keystroke broadcasts")

	waitFor(t, func() bool { return !tb.Active() })
	require.Equal(t, []bool{true, false}, log.snapshot())
}

func TestTypingKeystrokeReArmsTrailingTimer(t *testing.T) {
	log := &typingLog{}
	tb := NewTypingBroadcaster(log.send, 50*time.Millisecond)

	tb.Keystroke()
	// keep typing past the original window; the burst must stay open
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		tb.Keystroke()
	}
	require.True(t, tb.Active(), "activity inside the window keeps the burst alive")

	waitFor(t, func() bool { return !tb.Active() })
	require.Equal(t, []bool{true, false}, log.snapshot())
}

func TestTypingStopEndsBurstImmediately(t *testing.T) {
	log := &typingLog{}
	tb := NewTypingBroadcaster(log.send, time.Hour)

	tb.Keystroke()
	tb.Stop()
	require.False(t, tb.Active())
	require.Equal(t, []bool{true, false}, log.snapshot())

	// stopping an idle broadcaster sends nothing
	tb.Stop()
	require.Equal(t, []bool{true, false}, log.snapshot())
}

func TestTypingNewBurstAfterExpiry(t *testing.T) {
	log := &typingLog{}
	tb := NewTypingBroadcaster(log.send, 20*time.Millisecond)

	tb.Keystroke()
	waitFor(t, func() bool { return !tb.Active() })
	tb.Keystroke()
	require.True(t, tb.Active())

	waitFor(t, func() bool { return !tb.Active() })
	require.Equal(t, []bool{true, false, true, false}, log.snapshot())
}
