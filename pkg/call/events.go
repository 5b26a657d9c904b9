package call

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/streams"
)

// EventType тип события движка
type EventType string

const (
	EventState         EventType = "state"
	EventLocalStream   EventType = "local-stream"
	EventRemoteStreams EventType = "remote-streams"
	EventParticipants  EventType = "participants"
	EventDuration      EventType = "duration"
	EventError         EventType = "error"
)

// Event уведомление подписчика. Заполнены только поля, относящиеся к типу.
type Event struct {
	Type          EventType
	Session       Session
	LocalStream   *media.LocalStream
	RemoteStreams map[string]streams.Stream
	Participants  []Participant
	Duration      time.Duration
	Err           error
}

const subscriberBuffer = 256

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// bus доставляет события подписчикам в отдельных горутинах,
// медленный подписчик не блокирует цикл движка
type bus struct {
	log *zap.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newBus(log *zap.Logger) *bus {
	return &bus{log: log, subs: make(map[*subscriber]struct{})}
}

func (b *bus) subscribe(fn func(Event)) (unsubscribe func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				fn(ev)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
	}
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("subscriber is too slow, event dropped", zap.String("event", string(ev.Type)))
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*subscriber]struct{})
	b.closed = true
	b.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}
