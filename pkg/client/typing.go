package client

import (
	"sync"
	"time"
)

// DefaultTypingDebounce is the trailing quiet window after the last
// keystroke before typing=false is broadcast.
const DefaultTypingDebounce = 2 * time.Second

// TypingBroadcaster turns a keystroke stream into at most two broadcasts
// per burst: typing=true on the first keystroke, typing=false once the
// stream has been quiet for the debounce window. Every keystroke during a
// burst re-arms the trailing timer.
type TypingBroadcaster struct {
	send     func(bool) error
	debounce time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewTypingBroadcaster wraps a send function (usually Listener.SendTyping).
// A zero debounce means DefaultTypingDebounce.
func NewTypingBroadcaster(send func(bool) error, debounce time.Duration) *TypingBroadcaster {
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	return &TypingBroadcaster{send: send, debounce: debounce}
}

// Keystroke records input activity. The first call of a burst broadcasts
// typing=true; subsequent calls only push the trailing timer out.
func (t *TypingBroadcaster) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		t.active = true
		_ = t.send(true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, t.expire)
}

func (t *TypingBroadcaster) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	t.timer = nil
	_ = t.send(false)
}

// Stop ends the burst immediately, broadcasting typing=false if one was
// active. Call when the composer sends or loses focus.
func (t *TypingBroadcaster) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.active {
		t.active = false
		_ = t.send(false)
	}
}

// Active reports whether a typing burst is in flight.
func (t *TypingBroadcaster) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
