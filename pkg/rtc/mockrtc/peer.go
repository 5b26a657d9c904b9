package mockrtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtp"

	"github.com/arzzra/call_engine/pkg/rtc"
)

var errNoRemoteDescription = errors.New("mockrtc: remote description is not set")

// PeerConnection соединение в памяти.
// Записывает все операции в журнал, доступный через Ops.
type PeerConnection struct {
	id          int
	autoConnect bool

	mu         sync.Mutex
	ops        []string
	senders    []*Sender
	local      *rtc.SessionDescription
	remote     *rtc.SessionDescription
	candidates []rtc.ICECandidate
	closeCount int
	remoteErr  error
	offers     int
	answers    int
	generation int
	connected  bool

	onCandidate  func(rtc.ICECandidate)
	onTrack      func(rtc.RemoteTrack)
	onTrackEnded func(rtc.RemoteTrack)
	onPacket     func(rtc.RemoteTrack, *rtp.Packet)
	onState      func(rtc.ConnectionState)
}

var _ rtc.PeerConnection = (*PeerConnection)(nil)

func newPeerConnection(id int, autoConnect bool) *PeerConnection {
	return &PeerConnection{id: id, autoConnect: autoConnect, generation: 1}
}

func (pc *PeerConnection) record(op string) {
	pc.ops = append(pc.ops, op)
}

func (pc *PeerConnection) AddTrack(track rtc.LocalTrack) (rtc.Sender, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closeCount > 0 {
		return nil, rtc.ErrClosed
	}
	s := &Sender{track: track}
	pc.senders = append(pc.senders, s)
	pc.record("add-track:" + string(track.Kind()))
	return s, nil
}

func (pc *PeerConnection) CreateOffer(ctx context.Context, opts rtc.OfferOptions) (rtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closeCount > 0 {
		return rtc.SessionDescription{}, rtc.ErrClosed
	}
	if opts.ICERestart {
		pc.generation++
		pc.record("create-offer:restart")
	} else {
		pc.record("create-offer")
	}
	pc.offers++
	return rtc.SessionDescription{
		Type: rtc.SDPOffer,
		SDP:  FakeSDP(pc.id, pc.offers, pc.ufrag(), pc.senderKinds()),
	}, nil
}

func (pc *PeerConnection) CreateAnswer(ctx context.Context) (rtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closeCount > 0 {
		return rtc.SessionDescription{}, rtc.ErrClosed
	}
	if pc.remote == nil || pc.remote.Type != rtc.SDPOffer {
		return rtc.SessionDescription{}, errors.New("mockrtc: no remote offer")
	}
	pc.record("create-answer")
	pc.answers++
	return rtc.SessionDescription{
		Type: rtc.SDPAnswer,
		SDP:  FakeSDP(pc.id, pc.answers, pc.ufrag(), mediaKinds(pc.remote.SDP)),
	}, nil
}

func (pc *PeerConnection) SetLocalDescription(ctx context.Context, desc rtc.SessionDescription) error {
	pc.mu.Lock()
	if pc.closeCount > 0 {
		pc.mu.Unlock()
		return rtc.ErrClosed
	}
	d := desc
	pc.local = &d
	pc.record("set-local:" + string(desc.Type))
	fire := pc.readyLocked()
	pc.mu.Unlock()

	pc.fireConnected(fire)
	return nil
}

func (pc *PeerConnection) SetRemoteDescription(ctx context.Context, desc rtc.SessionDescription) error {
	pc.mu.Lock()
	if pc.closeCount > 0 {
		pc.mu.Unlock()
		return rtc.ErrClosed
	}
	if pc.remoteErr != nil {
		err := pc.remoteErr
		pc.mu.Unlock()
		return err
	}
	d := desc
	pc.remote = &d
	pc.record("set-remote:" + string(desc.Type))
	fire := pc.readyLocked()
	pc.mu.Unlock()

	pc.fireConnected(fire)
	return nil
}

func (pc *PeerConnection) AddICECandidate(c rtc.ICECandidate) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closeCount > 0 {
		return rtc.ErrClosed
	}
	if pc.remote == nil {
		return errNoRemoteDescription
	}
	pc.candidates = append(pc.candidates, c)
	pc.record("add-candidate:" + c.Candidate)
	return nil
}

func (pc *PeerConnection) OnICECandidate(fn func(rtc.ICECandidate)) {
	pc.mu.Lock()
	pc.onCandidate = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) OnTrack(fn func(rtc.RemoteTrack)) {
	pc.mu.Lock()
	pc.onTrack = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) OnTrackEnded(fn func(rtc.RemoteTrack)) {
	pc.mu.Lock()
	pc.onTrackEnded = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) OnPacket(fn func(rtc.RemoteTrack, *rtp.Packet)) {
	pc.mu.Lock()
	pc.onPacket = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) OnConnectionStateChange(fn func(rtc.ConnectionState)) {
	pc.mu.Lock()
	pc.onState = fn
	pc.mu.Unlock()
}

func (pc *PeerConnection) Close() error {
	pc.mu.Lock()
	pc.closeCount++
	pc.record("close")
	pc.mu.Unlock()
	return nil
}

// FailRemoteDescription задает ошибку для SetRemoteDescription
func (pc *PeerConnection) FailRemoteDescription(err error) {
	pc.mu.Lock()
	pc.remoteErr = err
	pc.mu.Unlock()
}

// EmitCandidate имитирует появление локального ICE кандидата
func (pc *PeerConnection) EmitCandidate(c rtc.ICECandidate) {
	pc.mu.Lock()
	fn := pc.onCandidate
	pc.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitTrack имитирует появление удаленного трека
func (pc *PeerConnection) EmitTrack(t rtc.RemoteTrack) {
	pc.mu.Lock()
	fn := pc.onTrack
	pc.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// EmitTrackEnded имитирует завершение удаленного трека
func (pc *PeerConnection) EmitTrackEnded(t rtc.RemoteTrack) {
	pc.mu.Lock()
	fn := pc.onTrackEnded
	pc.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// EmitPacket имитирует прием RTP пакета
func (pc *PeerConnection) EmitPacket(t rtc.RemoteTrack, pkt *rtp.Packet) {
	pc.mu.Lock()
	fn := pc.onPacket
	pc.mu.Unlock()
	if fn != nil {
		fn(t, pkt)
	}
}

// EmitState имитирует смену состояния связности.
// После потери связности AutoConnect снова сработает на следующем обмене описаниями.
func (pc *PeerConnection) EmitState(s rtc.ConnectionState) {
	pc.mu.Lock()
	switch {
	case s == rtc.ConnectionConnected:
		pc.connected = true
	case s.Lost():
		pc.connected = false
		pc.local, pc.remote = nil, nil
	}
	fn := pc.onState
	pc.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Ops журнал операций
func (pc *PeerConnection) Ops() []string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]string(nil), pc.ops...)
}

// Candidates примененные удаленные кандидаты в порядке применения
func (pc *PeerConnection) Candidates() []rtc.ICECandidate {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]rtc.ICECandidate(nil), pc.candidates...)
}

// CloseCount количество вызовов Close
func (pc *PeerConnection) CloseCount() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closeCount
}

// Offers количество созданных offer
func (pc *PeerConnection) Offers() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.offers
}

// Answers количество созданных answer
func (pc *PeerConnection) Answers() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.answers
}

// Senders отправители в порядке добавления
func (pc *PeerConnection) Senders() []*Sender {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]*Sender(nil), pc.senders...)
}

// SenderFor первый отправитель трека указанного типа
func (pc *PeerConnection) SenderFor(kind rtc.TrackKind) *Sender {
	for _, s := range pc.Senders() {
		if t := s.Track(); t != nil && t.Kind() == kind {
			return s
		}
	}
	return nil
}

// Connected сообщает было ли соединение переведено в connected
func (pc *PeerConnection) Connected() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.connected
}

func (pc *PeerConnection) ufrag() string {
	return fmt.Sprintf("u%dg%d", pc.id, pc.generation)
}

func (pc *PeerConnection) senderKinds() []rtc.TrackKind {
	var kinds []rtc.TrackKind
	for _, s := range pc.senders {
		if t := s.Track(); t != nil {
			kinds = append(kinds, t.Kind())
		}
	}
	if len(kinds) == 0 {
		kinds = append(kinds, rtc.TrackAudio)
	}
	return kinds
}

// readyLocked решает нужно ли имитировать установку связности
func (pc *PeerConnection) readyLocked() bool {
	if !pc.autoConnect || pc.connected || pc.local == nil || pc.remote == nil {
		return false
	}
	pc.connected = true
	return true
}

func (pc *PeerConnection) fireConnected(fire bool) {
	if !fire {
		return
	}
	go func() {
		pc.mu.Lock()
		fn := pc.onState
		closed := pc.closeCount > 0
		pc.mu.Unlock()
		if fn != nil && !closed {
			fn(rtc.ConnectionConnected)
		}
	}()
}

// FakeSDP строит минимальное корректное описание сессии
func FakeSDP(sessionID, version int, ufrag string, kinds []rtc.TrackKind) string {
	var b strings.Builder
	b.WriteString("v=0\r\n")
	fmt.Fprintf(&b, "o=- %d %d IN IP4 127.0.0.1\r\n", 1000+sessionID, version)
	b.WriteString("s=-\r\n")
	b.WriteString("t=0 0\r\n")
	for i, k := range kinds {
		pt, codec := 111, "opus/48000/2"
		if k == rtc.TrackVideo {
			pt, codec = 96, "VP8/90000"
		}
		fmt.Fprintf(&b, "m=%s 9 UDP/TLS/RTP/SAVPF %d\r\n", k, pt)
		b.WriteString("c=IN IP4 0.0.0.0\r\n")
		fmt.Fprintf(&b, "a=mid:%d\r\n", i)
		fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", ufrag)
		fmt.Fprintf(&b, "a=ice-pwd:%s0123456789abcdef\r\n", ufrag)
		b.WriteString("a=sendrecv\r\n")
		fmt.Fprintf(&b, "a=rtpmap:%d %s\r\n", pt, codec)
	}
	return b.String()
}

func mediaKinds(sdp string) []rtc.TrackKind {
	var kinds []rtc.TrackKind
	for _, line := range strings.Split(sdp, "\r\n") {
		switch {
		case strings.HasPrefix(line, "m=audio"):
			kinds = append(kinds, rtc.TrackAudio)
		case strings.HasPrefix(line, "m=video"):
			kinds = append(kinds, rtc.TrackVideo)
		}
	}
	return kinds
}
