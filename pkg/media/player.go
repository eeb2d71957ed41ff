package media

import (
	"errors"
	"sync"
	"time"
)

// PlaybackSink abstracts the platform audio output.
type PlaybackSink interface {
	Play(url string) error
	Pause() error
	Resume() error
	Stop() error
}

// PlayerState is the playback lifecycle.
type PlayerState int

const (
	PlayerIdle PlayerState = iota
	PlayerPlaying
	PlayerPaused
)

func (s PlayerState) String() string {
	switch s {
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	default:
		return "idle"
	}
}

var (
	ErrNothingPlaying = errors.New("nothing is playing")
	ErrAlreadyPaused  = errors.New("playback already paused")
)

// Player drives one voice clip at a time through a PlaybackSink and keeps
// a clock-based position for the progress bar. Starting a new clip stops
// the previous one; only one message plays at a time.
type Player struct {
	sink PlaybackSink

	mu        sync.Mutex
	state     PlayerState
	url       string
	duration  time.Duration
	playedFor time.Duration
	resumedAt time.Time
	doneTimer *time.Timer

	// OnDone, if set, runs when a clip plays to the end.
	OnDone func(url string)

	now func() time.Time
}

// NewPlayer wraps a playback sink.
func NewPlayer(sink PlaybackSink) *Player {
	return &Player{sink: sink, now: time.Now}
}

// State returns the playback state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Current returns the url of the active clip, empty when idle.
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Play starts a clip, stopping whatever was active first. durationMs of 0
// disables end-of-clip detection; Stop must be called explicitly.
func (p *Player) Play(url string, durationMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayerIdle {
		p.stopLocked()
	}
	if err := p.sink.Play(url); err != nil {
		return err
	}
	p.state = PlayerPlaying
	p.url = url
	p.duration = time.Duration(durationMs) * time.Millisecond
	p.playedFor = 0
	p.resumedAt = p.now()
	p.armDoneLocked()
	return nil
}

// Pause suspends playback, keeping the position.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case PlayerIdle:
		return ErrNothingPlaying
	case PlayerPaused:
		return ErrAlreadyPaused
	}
	if err := p.sink.Pause(); err != nil {
		return err
	}
	p.playedFor += p.now().Sub(p.resumedAt)
	p.state = PlayerPaused
	p.disarmDoneLocked()
	return nil
}

// Resume continues a paused clip.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayerPaused {
		return ErrNothingPlaying
	}
	if err := p.sink.Resume(); err != nil {
		return err
	}
	p.state = PlayerPlaying
	p.resumedAt = p.now()
	p.armDoneLocked()
	return nil
}

// Stop ends playback and resets position.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PlayerIdle {
		return ErrNothingPlaying
	}
	p.stopLocked()
	return nil
}

// Position returns how far into the clip playback is.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case PlayerPlaying:
		return p.playedFor + p.now().Sub(p.resumedAt)
	case PlayerPaused:
		return p.playedFor
	default:
		return 0
	}
}

func (p *Player) stopLocked() {
	_ = p.sink.Stop()
	p.state = PlayerIdle
	p.url = ""
	p.duration = 0
	p.playedFor = 0
	p.disarmDoneLocked()
}

func (p *Player) armDoneLocked() {
	p.disarmDoneLocked()
	if p.duration <= 0 {
		return
	}
	remaining := p.duration - p.playedFor
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	p.doneTimer = time.AfterFunc(remaining, p.finish)
}

func (p *Player) disarmDoneLocked() {
	if p.doneTimer != nil {
		p.doneTimer.Stop()
		p.doneTimer = nil
	}
}

func (p *Player) finish() {
	p.mu.Lock()
	if p.state != PlayerPlaying {
		p.mu.Unlock()
		return
	}
	url := p.url
	p.stopLocked()
	done := p.OnDone
	p.mu.Unlock()
	if done != nil {
		done(url)
	}
}
