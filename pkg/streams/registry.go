// Package streams хранит удаленные медиа потоки участников звонка.
//
// Реестр обновляется соединениями участников по мере появления и
// завершения удаленных треков и очищается при отключении участника или
// завершении сессии. Потребители получают только копии записей.
package streams

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// ChangeType тип изменения реестра
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// Stats статистика приема RTP потока
type Stats struct {
	Packets    uint64
	Bytes      uint64
	LastPacket time.Time
	// LastSequence номер последнего принятого пакета
	LastSequence uint16
}

// Stream удаленный поток одного участника
type Stream struct {
	ParticipantID string
	StreamID      string
	Tracks        []rtc.RemoteTrack
	Stats         Stats
}

// HasKind проверяет наличие трека указанного типа
func (s Stream) HasKind(kind rtc.TrackKind) bool {
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (s Stream) clone() Stream {
	s.Tracks = append([]rtc.RemoteTrack(nil), s.Tracks...)
	return s
}

// Change уведомление об изменении реестра
type Change struct {
	Type   ChangeType
	Stream Stream
}

// Registry реестр удаленных потоков, безопасен для конкурентного использования
type Registry struct {
	log *zap.Logger
	now func() time.Time

	mu      sync.RWMutex
	streams map[string]*Stream
	subs    map[int]func(Change)
	nextSub int
}

// NewRegistry создает пустой реестр
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		log:     logger.Named("streams"),
		now:     time.Now,
		streams: make(map[string]*Stream),
		subs:    make(map[int]func(Change)),
	}
}

// AddTrack добавляет трек участника, создавая запись при необходимости.
// Повторное добавление того же трека игнорируется.
func (r *Registry) AddTrack(participantID string, track rtc.RemoteTrack) {
	r.mu.Lock()
	s, ok := r.streams[participantID]
	if !ok {
		s = &Stream{ParticipantID: participantID, StreamID: track.StreamID()}
		r.streams[participantID] = s
	}
	for _, t := range s.Tracks {
		if t.ID() == track.ID() {
			r.mu.Unlock()
			return
		}
	}
	s.Tracks = append(s.Tracks, track)
	change := Change{Type: ChangeUpdated, Stream: s.clone()}
	if !ok {
		change.Type = ChangeAdded
	}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	r.log.Debug("remote track added",
		zap.String("participant_id", participantID),
		zap.String("track_id", track.ID()),
		zap.String("kind", string(track.Kind())))
	notify(subs, change)
}

// RemoveTrack удаляет трек участника. Запись без треков удаляется целиком.
func (r *Registry) RemoveTrack(participantID, trackID string) {
	r.mu.Lock()
	s, ok := r.streams[participantID]
	if !ok {
		r.mu.Unlock()
		return
	}
	idx := -1
	for i, t := range s.Tracks {
		if t.ID() == trackID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	s.Tracks = append(s.Tracks[:idx], s.Tracks[idx+1:]...)
	change := Change{Type: ChangeUpdated, Stream: s.clone()}
	if len(s.Tracks) == 0 {
		delete(r.streams, participantID)
		change.Type = ChangeRemoved
	}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, change)
}

// RecordPacket учитывает принятый RTP пакет в статистике потока
func (r *Registry) RecordPacket(participantID string, pkt *rtp.Packet) {
	if pkt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[participantID]
	if !ok {
		return
	}
	s.Stats.Packets++
	s.Stats.Bytes += uint64(pkt.MarshalSize())
	s.Stats.LastPacket = r.now()
	s.Stats.LastSequence = pkt.SequenceNumber
}

// Remove удаляет запись участника
func (r *Registry) Remove(participantID string) bool {
	r.mu.Lock()
	s, ok := r.streams[participantID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.streams, participantID)
	change := Change{Type: ChangeRemoved, Stream: s.clone()}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, change)
	return true
}

// Clear удаляет все записи
func (r *Registry) Clear() {
	r.mu.Lock()
	removed := make([]Change, 0, len(r.streams))
	for id, s := range r.streams {
		removed = append(removed, Change{Type: ChangeRemoved, Stream: s.clone()})
		delete(r.streams, id)
	}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	for _, c := range removed {
		notify(subs, c)
	}
}

// Get возвращает копию записи участника
func (r *Registry) Get(participantID string) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[participantID]
	if !ok {
		return Stream{}, false
	}
	return s.clone(), true
}

// Snapshot возвращает копию всего реестра
func (r *Registry) Snapshot() map[string]Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stream, len(r.streams))
	for id, s := range r.streams {
		out[id] = s.clone()
	}
	return out
}

// Len количество записей
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Subscribe регистрирует обработчик изменений. Обработчик вызывается
// синхронно в горутине, изменившей реестр, и не должен блокироваться.
func (r *Registry) Subscribe(fn func(Change)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) subscribersLocked() []func(Change) {
	subs := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}
