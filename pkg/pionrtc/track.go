package pionrtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// mediaTrack минимальный набор методов трека захвата mediadevices
type mediaTrack interface {
	webrtc.TrackLocal
	OnEnded(func(error))
	Close() error
}

// localTrack трек захвата. Выключение реализовано заменой трека
// в отправителях на nil, поэтому пересогласование не требуется.
type localTrack struct {
	track  mediaTrack
	kind   rtc.TrackKind
	source rtc.Source

	mu       sync.Mutex
	enabled  bool
	ended    bool
	stopped  bool
	handlers []func()
	senders  map[*sender]struct{}
}

var _ rtc.LocalTrack = (*localTrack)(nil)

func newLocalTrack(t mediaTrack, source rtc.Source) *localTrack {
	lt := &localTrack{
		track:   t,
		kind:    fromPionKind(t.Kind()),
		source:  source,
		enabled: true,
		senders: make(map[*sender]struct{}),
	}
	t.OnEnded(func(error) { lt.sourceEnded() })
	return lt
}

func (t *localTrack) ID() string          { return t.track.ID() }
func (t *localTrack) Kind() rtc.TrackKind { return t.kind }
func (t *localTrack) Source() rtc.Source  { return t.source }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	if t.enabled == enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = enabled
	senders := make([]*sender, 0, len(t.senders))
	for s := range t.senders {
		senders = append(senders, s)
	}
	t.mu.Unlock()

	for _, s := range senders {
		_ = s.apply()
	}
}

func (t *localTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *localTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.handlers = append(t.handlers, fn)
	t.mu.Unlock()
}

// Stop останавливает захват. Обработчики OnEnded при этом не вызываются.
func (t *localTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.ended = true
	t.mu.Unlock()
	return errors.Wrapf(t.track.Close(), "close track %s", t.track.ID())
}

func (t *localTrack) sourceEnded() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	handlers := append([]func(){}, t.handlers...)
	t.mu.Unlock()

	for _, fn := range handlers {
		go fn()
	}
}

func (t *localTrack) attach(s *sender) {
	t.mu.Lock()
	t.senders[s] = struct{}{}
	t.mu.Unlock()
}

func (t *localTrack) detach(s *sender) {
	t.mu.Lock()
	delete(t.senders, s)
	t.mu.Unlock()
}

// sender отправитель с текущим локальным треком
type sender struct {
	rtp *webrtc.RTPSender

	mu      sync.Mutex
	current *localTrack
}

var _ rtc.Sender = (*sender)(nil)

func (s *sender) Track() rtc.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}

func (s *sender) ReplaceTrack(track rtc.LocalTrack) error {
	var next *localTrack
	if track != nil {
		lt, ok := track.(*localTrack)
		if !ok {
			return errors.Errorf("track %s was not captured by this platform", track.ID())
		}
		next = lt
	}

	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()

	if prev != nil && prev != next {
		prev.detach(s)
	}
	if next != nil {
		next.attach(s)
	}
	return s.apply()
}

// apply передает в RTP отправитель текущий трек или nil для выключенного
func (s *sender) apply() error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current == nil || !current.Enabled() {
		return s.rtp.ReplaceTrack(nil)
	}
	return s.rtp.ReplaceTrack(current.track)
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

var _ rtc.RemoteTrack = remoteTrack{}

func (t remoteTrack) ID() string          { return t.track.ID() }
func (t remoteTrack) StreamID() string    { return t.track.StreamID() }
func (t remoteTrack) Kind() rtc.TrackKind { return fromPionKind(t.track.Kind()) }
