package pionrtc

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
)

type peerConnection struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger

	mu           sync.RWMutex
	onCandidate  func(rtc.ICECandidate)
	onTrack      func(rtc.RemoteTrack)
	onTrackEnded func(rtc.RemoteTrack)
	onPacket     func(rtc.RemoteTrack, *rtp.Packet)
	onState      func(rtc.ConnectionState)
}

var _ rtc.PeerConnection = (*peerConnection)(nil)

func newPeerConnection(pc *webrtc.PeerConnection, log *zap.Logger) *peerConnection {
	p := &peerConnection{pc: pc, log: log}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil означает окончание сбора кандидатов
		if c == nil {
			return
		}
		p.mu.RLock()
		fn := p.onCandidate
		p.mu.RUnlock()
		if fn != nil {
			fn(fromPionCandidate(c.ToJSON()))
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		rt := remoteTrack{track: track}
		p.log.Info("remote track received",
			zap.String("track_id", track.ID()),
			zap.String("stream_id", track.StreamID()),
			zap.String("codec", track.Codec().MimeType))

		p.mu.RLock()
		fn := p.onTrack
		p.mu.RUnlock()
		if fn != nil {
			fn(rt)
		}
		go p.readRTP(rt)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.mu.RLock()
		fn := p.onState
		p.mu.RUnlock()
		if fn != nil {
			fn(fromPionState(s))
		}
	})
	return p
}

// readRTP читает пакеты удаленного трека до его завершения
func (p *peerConnection) readRTP(rt remoteTrack) {
	for {
		pkt, _, err := rt.track.ReadRTP()
		if err != nil {
			p.log.Debug("remote track ended", zap.String("track_id", rt.ID()), zap.Error(err))
			p.mu.RLock()
			fn := p.onTrackEnded
			p.mu.RUnlock()
			if fn != nil {
				fn(rt)
			}
			return
		}
		p.mu.RLock()
		fn := p.onPacket
		p.mu.RUnlock()
		if fn != nil {
			fn(rt, pkt)
		}
	}
}

// readRTCP вычитывает RTCP отправителя, иначе интерсепторы не получают отчеты
func readRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func (p *peerConnection) AddTrack(track rtc.LocalTrack) (rtc.Sender, error) {
	lt, ok := track.(*localTrack)
	if !ok {
		return nil, errors.Errorf("track %s was not captured by this platform", track.ID())
	}
	rs, err := p.pc.AddTrack(lt.track)
	if err != nil {
		return nil, errors.Wrapf(err, "add %s track", lt.kind)
	}
	go readRTCP(rs)

	s := &sender{rtp: rs, current: lt}
	lt.attach(s)
	if !lt.Enabled() {
		if err := s.apply(); err != nil {
			return nil, errors.Wrap(err, "detach disabled track")
		}
	}
	return s, nil
}

func (p *peerConnection) CreateOffer(ctx context.Context, opts rtc.OfferOptions) (rtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return rtc.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: opts.ICERestart})
	if err != nil {
		return rtc.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	return fromPionDescription(offer), nil
}

func (p *peerConnection) CreateAnswer(ctx context.Context) (rtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return rtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return rtc.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	return fromPionDescription(answer), nil
}

func (p *peerConnection) SetLocalDescription(ctx context.Context, desc rtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrap(p.pc.SetLocalDescription(toPionDescription(desc)), "set local description")
}

func (p *peerConnection) SetRemoteDescription(ctx context.Context, desc rtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrap(p.pc.SetRemoteDescription(toPionDescription(desc)), "set remote description")
}

func (p *peerConnection) AddICECandidate(c rtc.ICECandidate) error {
	return errors.Wrap(p.pc.AddICECandidate(toPionCandidate(c)), "add ice candidate")
}

func (p *peerConnection) OnICECandidate(fn func(rtc.ICECandidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *peerConnection) OnTrack(fn func(rtc.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *peerConnection) OnTrackEnded(fn func(rtc.RemoteTrack)) {
	p.mu.Lock()
	p.onTrackEnded = fn
	p.mu.Unlock()
}

func (p *peerConnection) OnPacket(fn func(rtc.RemoteTrack, *rtp.Packet)) {
	p.mu.Lock()
	p.onPacket = fn
	p.mu.Unlock()
}

func (p *peerConnection) OnConnectionStateChange(fn func(rtc.ConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *peerConnection) Close() error {
	return errors.Wrap(p.pc.Close(), "close peer connection")
}
