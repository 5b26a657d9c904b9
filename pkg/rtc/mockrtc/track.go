package mockrtc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arzzra/call_engine/pkg/rtc"
)

var trackSeq atomic.Uint64

// Track локальный трек в памяти
type Track struct {
	id     string
	kind   rtc.TrackKind
	source rtc.Source

	mu        sync.Mutex
	enabled   bool
	ended     bool
	stopCount int
	onEnded   []func()
}

// NewTrack создает включенный трек
func NewTrack(kind rtc.TrackKind, source rtc.Source) *Track {
	return &Track{
		id:      fmt.Sprintf("%s-%d", source, trackSeq.Add(1)),
		kind:    kind,
		source:  source,
		enabled: true,
	}
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() rtc.TrackKind { return t.kind }
func (t *Track) Source() rtc.Source { return t.source }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// Stop останавливает трек. Обработчики OnEnded не вызываются,
// как и у настоящих платформ при локальной остановке.
func (t *Track) Stop() error {
	t.mu.Lock()
	t.ended = true
	t.stopCount++
	t.mu.Unlock()
	return nil
}

// StopCount количество вызовов Stop
func (t *Track) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCount
}

// End имитирует завершение трека источником
func (t *Track) End() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	handlers := append([]func(){}, t.onEnded...)
	t.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// RemoteTrack трек удаленного участника
type RemoteTrack struct {
	id       string
	streamID string
	kind     rtc.TrackKind
}

// NewRemoteTrack создает удаленный трек
func NewRemoteTrack(id, streamID string, kind rtc.TrackKind) *RemoteTrack {
	return &RemoteTrack{id: id, streamID: streamID, kind: kind}
}

func (t *RemoteTrack) ID() string { return t.id }
func (t *RemoteTrack) StreamID() string { return t.streamID }
func (t *RemoteTrack) Kind() rtc.TrackKind { return t.kind }

// Sender отправитель, запоминающий подмены трека
type Sender struct {
	mu       sync.Mutex
	track    rtc.LocalTrack
	replaced int
}

func (s *Sender) Track() rtc.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track rtc.LocalTrack) error {
	s.mu.Lock()
	s.track = track
	s.replaced++
	s.mu.Unlock()
	return nil
}

// Replaced количество вызовов ReplaceTrack
func (s *Sender) Replaced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}
