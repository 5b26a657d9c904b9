package ringtone

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	calls   []string
	playErr error
	playing *Clip
}

func (s *recordingSink) Play(clip *Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "play:"+string(clip.Cue))
	if s.playErr != nil {
		return s.playErr
	}
	s.playing = clip
	return nil
}

func (s *recordingSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "pause")
	s.playing = nil
	return nil
}

func (s *recordingSink) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "rewind")
}

func (s *recordingSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestPlayerStartStop(t *testing.T) {
	sink := &recordingSink{}
	p := NewPlayer(sink, Options{})

	p.Start(CueRing)
	p.Start(CueRing)
	cue, active := p.Active()
	assert.True(t, active)
	assert.Equal(t, CueRing, cue)

	p.Stop()
	p.Stop()
	_, active = p.Active()
	assert.False(t, active)

	assert.Equal(t, []string{"play:ring", "pause", "rewind"}, sink.Calls())
}

func TestPlayerSwitchCue(t *testing.T) {
	sink := &recordingSink{}
	p := NewPlayer(sink, Options{})

	p.Start(CueRingback)
	p.Start(CueRing)

	assert.Equal(t, []string{"play:ringback", "pause", "rewind", "play:ring"}, sink.Calls())
	cue, _ := p.Active()
	assert.Equal(t, CueRing, cue)
}

func TestPlayerFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{playErr: errors.New("no audio device")}
	p := NewPlayer(sink, Options{})

	require.NotPanics(t, func() { p.Start(CueRingback) })
	_, active := p.Active()
	assert.False(t, active)

	// неактивный проигрыватель не трогает устройство при остановке
	p.Stop()
	assert.Equal(t, []string{"play:ringback"}, sink.Calls())
}

func TestSynthesize(t *testing.T) {
	clip := Synthesize(CueRingback, 8000)
	require.NotNil(t, clip)
	assert.Equal(t, 6*time.Second, clip.Duration())

	// пауза в конце цикла
	assert.Equal(t, int16(0), clip.Samples[len(clip.Samples)-1])

	ring := Synthesize(CueRing, 0)
	require.NotNil(t, ring)
	assert.Equal(t, DefaultSampleRate, ring.SampleRate)
	assert.Equal(t, 3*time.Second, ring.Duration())

	assert.Nil(t, Synthesize(Cue("siren"), 8000))
}
