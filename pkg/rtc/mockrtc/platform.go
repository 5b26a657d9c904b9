// Package mockrtc реализует rtc.Platform в памяти для тестов.
//
// Платформа позволяет заранее задать ошибки захвата, задержать захват до
// явного разрешения и наблюдать за всеми созданными соединениями. Режим
// AutoConnect переводит соединение в connected, как только у него есть
// локальное и удаленное описание.
package mockrtc

import (
	"context"
	"sync"

	"github.com/arzzra/call_engine/pkg/rtc"
)

// Platform тестовая медиа платформа
type Platform struct {
	// AutoConnect включает автоматический переход соединений в connected
	AutoConnect bool

	mu             sync.Mutex
	userMediaErr   error
	displayErr     error
	gate           chan struct{}
	userMediaCalls int
	displayCalls   int
	tracks         []*Track
	conns          []*PeerConnection
	onConnection   func(*PeerConnection)
}

var _ rtc.Platform = (*Platform)(nil)

// New создает платформу
func New() *Platform {
	return &Platform{}
}

// FailUserMedia задает ошибку для следующих вызовов GetUserMedia, nil снимает ошибку
func (p *Platform) FailUserMedia(err error) {
	p.mu.Lock()
	p.userMediaErr = err
	p.mu.Unlock()
}

// FailDisplayMedia задает ошибку для GetDisplayMedia
func (p *Platform) FailDisplayMedia(err error) {
	p.mu.Lock()
	p.displayErr = err
	p.mu.Unlock()
}

// HoldUserMedia задерживает GetUserMedia до вызова возвращенной функции.
// Задержанный захват не реагирует на отмену контекста, как медленный
// запрос разрешения в браузере.
func (p *Platform) HoldUserMedia() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			p.mu.Unlock()
			close(gate)
		})
	}
}

// OnConnection регистрирует хук на создание соединения
func (p *Platform) OnConnection(fn func(*PeerConnection)) {
	p.mu.Lock()
	p.onConnection = fn
	p.mu.Unlock()
}

func (p *Platform) GetUserMedia(ctx context.Context, c rtc.Constraints) ([]rtc.LocalTrack, error) {
	p.mu.Lock()
	p.userMediaCalls++
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userMediaErr != nil {
		return nil, p.userMediaErr
	}

	var out []rtc.LocalTrack
	if c.Audio {
		t := NewTrack(rtc.TrackAudio, rtc.SourceMicrophone)
		p.tracks = append(p.tracks, t)
		out = append(out, t)
	}
	if c.Video {
		t := NewTrack(rtc.TrackVideo, rtc.SourceCamera)
		p.tracks = append(p.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

func (p *Platform) GetDisplayMedia(ctx context.Context) (rtc.LocalTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayCalls++
	if p.displayErr != nil {
		return nil, p.displayErr
	}
	t := NewTrack(rtc.TrackVideo, rtc.SourceScreen)
	p.tracks = append(p.tracks, t)
	return t, nil
}

func (p *Platform) NewPeerConnection(ctx context.Context, cfg rtc.Config) (rtc.PeerConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	pc := newPeerConnection(len(p.conns)+1, p.AutoConnect)
	p.conns = append(p.conns, pc)
	hook := p.onConnection
	p.mu.Unlock()

	if hook != nil {
		hook(pc)
	}
	return pc, nil
}

// UserMediaCalls количество вызовов GetUserMedia
func (p *Platform) UserMediaCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userMediaCalls
}

// DisplayMediaCalls количество вызовов GetDisplayMedia
func (p *Platform) DisplayMediaCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayCalls
}

// Tracks все выданные платформой локальные треки
func (p *Platform) Tracks() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Track(nil), p.tracks...)
}

// Connections все созданные соединения
func (p *Platform) Connections() []*PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*PeerConnection(nil), p.conns...)
}

// LastConnection последнее созданное соединение или nil
func (p *Platform) LastConnection() *PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}
