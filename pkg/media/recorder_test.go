package media

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	started  int
	stopped  int
	data     []byte
	startErr error
	stopErr  error
}

func (f *fakeSource) Start() error {
	f.started++
	return f.startErr
}

func (f *fakeSource) Stop() ([]byte, error) {
	f.stopped++
	return f.data, f.stopErr
}

// fakeClock returns a now func that advances by step on each call to tick.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time       { return c.t }
func (c *fakeClock) tick(d time.Duration) { c.t = c.t.Add(d) }

func TestRecorderHappyPath(t *testing.T) {
	src := &fakeSource{data: []byte("aac-bytes")}
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := NewRecorder(src)
	r.now = clk.now

	require.NoError(t, r.Start())
	assert.Equal(t, RecorderRecording, r.State())

	clk.tick(1200 * time.Millisecond)
	assert.Equal(t, 1200*time.Millisecond, r.Elapsed())

	clip, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("aac-bytes"), clip.Data)
	assert.Equal(t, int64(1200), clip.DurationMs)
	assert.Equal(t, RecorderIdle, r.State())
	assert.Zero(t, r.Elapsed())
}

func TestRecorderDiscardsAccidentalTap(t *testing.T) {
	src := &fakeSource{data: []byte("blip")}
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := NewRecorder(src)
	r.now = clk.now

	require.NoError(t, r.Start())
	clk.tick(100 * time.Millisecond)

	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrTooShort)
	assert.Equal(t, RecorderIdle, r.State(), "recorder recovers after a short clip")
	assert.Equal(t, 1, src.stopped, "capture must still be released")
}

func TestRecorderRefusesConcurrentClips(t *testing.T) {
	src := &fakeSource{data: []byte("x")}
	r := NewRecorder(src)

	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), ErrAlreadyRecording)
	assert.Equal(t, 1, src.started)
}

func TestRecorderStopWithoutStart(t *testing.T) {
	r := NewRecorder(&fakeSource{})
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.ErrorIs(t, r.Cancel(), ErrNotRecording)
}

func TestRecorderCancelDiscards(t *testing.T) {
	src := &fakeSource{data: []byte("x")}
	r := NewRecorder(src)

	require.NoError(t, r.Start())
	require.NoError(t, r.Cancel())
	assert.Equal(t, RecorderIdle, r.State())
	assert.Equal(t, 1, src.stopped)

	// the recorder is reusable after a cancel
	require.NoError(t, r.Start())
}

func TestRecorderSourceFailures(t *testing.T) {
	boom := errors.New("mic busy")
	r := NewRecorder(&fakeSource{startErr: boom})
	assert.ErrorIs(t, r.Start(), boom)
	assert.Equal(t, RecorderIdle, r.State())

	clk := &fakeClock{t: time.Unix(1000, 0)}
	src := &fakeSource{stopErr: errors.New("encode failed")}
	r = NewRecorder(src)
	r.now = clk.now
	require.NoError(t, r.Start())
	clk.tick(time.Second)
	_, err := r.Stop()
	assert.Error(t, err)
	assert.Equal(t, RecorderIdle, r.State())
}
