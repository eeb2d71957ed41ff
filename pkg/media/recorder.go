package media

import (
	"errors"
	"sync"
	"time"
)

// CaptureSource abstracts the platform microphone. Start begins capture;
// Stop ends it and returns the encoded bytes.
type CaptureSource interface {
	Start() error
	Stop() ([]byte, error)
}

// RecorderState is the voice recorder lifecycle.
type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderStopping
)

func (s RecorderState) String() string {
	switch s {
	case RecorderRecording:
		return "recording"
	case RecorderStopping:
		return "stopping"
	default:
		return "idle"
	}
}

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrTooShort         = errors.New("recording too short")
)

// MinRecording is the shortest clip worth keeping; taps shorter than this
// are discarded as accidental.
const MinRecording = 500 * time.Millisecond

// Recording is a finished voice clip ready for upload.
type Recording struct {
	Data       []byte
	DurationMs int64
}

// Recorder drives a CaptureSource through the idle/recording/stopping
// cycle and measures clip duration. One clip at a time.
type Recorder struct {
	source CaptureSource

	mu      sync.Mutex
	state   RecorderState
	started time.Time

	// now is swappable for tests
	now func() time.Time
}

// NewRecorder wraps a capture source.
func NewRecorder(src CaptureSource) *Recorder {
	return &Recorder{source: src, now: time.Now}
}

// State returns the current lifecycle state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins capturing. Fails if a clip is already in progress.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderIdle {
		return ErrAlreadyRecording
	}
	if err := r.source.Start(); err != nil {
		return err
	}
	r.state = RecorderRecording
	r.started = r.now()
	return nil
}

// Stop ends capture and returns the clip. Clips shorter than MinRecording
// are dropped with ErrTooShort; the recorder returns to idle either way.
func (r *Recorder) Stop() (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return Recording{}, ErrNotRecording
	}
	r.state = RecorderStopping
	elapsed := r.now().Sub(r.started)

	data, err := r.source.Stop()
	r.state = RecorderIdle
	if err != nil {
		return Recording{}, err
	}
	if elapsed < MinRecording {
		return Recording{}, ErrTooShort
	}
	return Recording{Data: data, DurationMs: elapsed.Milliseconds()}, nil
}

// Cancel ends capture and discards the clip.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return ErrNotRecording
	}
	r.state = RecorderStopping
	_, err := r.source.Stop()
	r.state = RecorderIdle
	return err
}

// Elapsed returns how long the current clip has been recording, zero when
// idle. Drives the composer's duration readout.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return 0
	}
	return r.now().Sub(r.started)
}
