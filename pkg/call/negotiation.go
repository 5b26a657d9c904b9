package call

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/signaling"
)

// submit ставит работу участника в его очередь. Ошибка работы
// возвращается в цикл и завершает живую сессию.
func (e *Engine) submit(cs *callState, p *participant, task func(ctx context.Context) error) {
	epoch, ctx := cs.epoch, cs.ctx
	p.queue.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		if err := task(ctx); err != nil {
			e.post(func() {
				if e.alive(cs, epoch) {
					e.negotiationFailed(cs, p, err)
				}
			})
		}
	})
}

func (e *Engine) localTracks() []rtc.LocalTrack {
	stream, ok := e.devices.Stream()
	if !ok {
		return nil
	}
	return stream.Tracks()
}

// syncVideoSlot повторяет подстановку видео, если источник сменился
// пока создавалось описание с прежним набором треков
func (e *Engine) syncVideoSlot(cs *callState, attached []rtc.LocalTrack) {
	stream, ok := e.devices.Stream()
	if !ok || stream.Video == nil {
		return
	}
	for _, t := range attached {
		if t == stream.Video {
			return
		}
	}
	e.applyVideoSlot(cs)
}

func (e *Engine) openParticipant(cs *callState, p *participant, role peer.Role) {
	p.role = role
	p.opened = true
	e.submit(cs, p, func(ctx context.Context) error {
		_, err := e.peers.Open(ctx, p.id, role)
		return err
	})
	e.publishParticipants(cs)
}

// sendOffer создает предложение и отправляет его участнику
func (e *Engine) sendOffer(cs *callState, p *participant, restart bool) {
	epoch := cs.epoch
	e.submit(cs, p, func(ctx context.Context) error {
		tracks := e.localTracks()
		desc, err := e.peers.CreateOffer(ctx, p.id, tracks, rtc.OfferOptions{ICERestart: restart})
		if err != nil {
			return err
		}
		e.post(func() {
			if e.alive(cs, epoch) {
				e.syncVideoSlot(cs, tracks)
				e.send(signaling.NewOffer(cs.session.ID, e.cfg.SelfID, p.id, desc, restart))
			}
		})
		return nil
	})
}

func (e *Engine) onOffer(cs *callState, p *participant, msg *signaling.Message) {
	phase := cs.phase()
	if (phase != PhaseConnecting && phase != PhaseActive) || p.role != peer.RoleAnswerer {
		e.unexpected(cs, msg)
		return
	}
	if msg.ICERestart {
		cs.log.Info("ice restart offer received", zap.String("from_id", p.id))
	}

	desc := msg.Description()
	epoch := cs.epoch
	e.submit(cs, p, func(ctx context.Context) error {
		if err := e.peers.ApplyRemoteDescription(ctx, p.id, desc); err != nil {
			return err
		}
		tracks := e.localTracks()
		answer, err := e.peers.CreateAnswer(ctx, p.id, tracks)
		if err != nil {
			return err
		}
		e.post(func() {
			if e.alive(cs, epoch) {
				e.syncVideoSlot(cs, tracks)
				e.send(signaling.NewAnswer(cs.session.ID, e.cfg.SelfID, p.id, answer))
			}
		})
		return nil
	})
}

func (e *Engine) onAnswer(cs *callState, p *participant, msg *signaling.Message) {
	phase := cs.phase()
	if (phase != PhaseConnecting && phase != PhaseActive) || p.role != peer.RoleOfferer {
		e.unexpected(cs, msg)
		return
	}
	desc := msg.Description()
	e.submit(cs, p, func(ctx context.Context) error {
		return e.peers.ApplyRemoteDescription(ctx, p.id, desc)
	})
}

// onRemoteCandidate кандидаты применяются в порядке поступления;
// до удаленного описания их буферизует менеджер соединений
func (e *Engine) onRemoteCandidate(cs *callState, p *participant, msg *signaling.Message) {
	if msg.Candidate == nil {
		e.unexpected(cs, msg)
		return
	}
	c := *msg.Candidate
	e.submit(cs, p, func(context.Context) error {
		return e.peers.AddICECandidate(p.id, c)
	})
}

func (e *Engine) onLocalCandidate(participantID string, c rtc.ICECandidate) {
	cs := e.live()
	if cs == nil {
		return
	}
	if _, ok := cs.participants[participantID]; !ok {
		return
	}
	e.send(signaling.NewCandidate(cs.session.ID, e.cfg.SelfID, participantID, c))
}

func (e *Engine) onConnectionState(participantID string, state rtc.ConnectionState) {
	cs := e.live()
	if cs == nil {
		return
	}
	p, ok := cs.participants[participantID]
	if !ok {
		return
	}
	p.state = state
	cs.log.Debug("participant connectivity changed",
		zap.String("participant_id", participantID),
		zap.String("state", string(state)))

	switch {
	case state == rtc.ConnectionConnected:
		p.connected = true
		if p.restarting {
			p.restarting = false
			e.disarm(cs, restartTimer(p.id))
			cs.log.Info("connectivity restored after ice restart", zap.String("participant_id", p.id))
		}
		e.publishParticipants(cs)
		if cs.phase() == PhaseConnecting && e.allConnected(cs) {
			if err := e.transition(cs, PhaseActive); err != nil {
				cs.log.Error("failed to enter active", zap.Error(err))
			}
		}
	case state.Lost():
		p.connected = false
		e.publishParticipants(cs)
		switch cs.phase() {
		case PhaseActive:
			e.connectivityLost(cs, p)
		case PhaseConnecting:
			if state == rtc.ConnectionFailed {
				e.sendHangup(cs)
				e.finish(cs, ReasonConnectionLost,
					peer.NewNegotiationError(peer.ErrorCodeICEFailed, p.id, "connectivity could not be established", nil))
			}
		}
	default:
		e.publishParticipants(cs)
	}
}

func (e *Engine) allConnected(cs *callState) bool {
	for _, p := range cs.participants {
		if !p.connected {
			return false
		}
	}
	return true
}

// connectivityLost единственная попытка ICE restart на участника.
// Предложение отправляет сторона offerer, answerer ждет его.
func (e *Engine) connectivityLost(cs *callState, p *participant) {
	if p.restarting {
		return
	}
	if p.restartAttempted {
		e.sendHangup(cs)
		e.finish(cs, ReasonConnectionLost,
			peer.NewNegotiationError(peer.ErrorCodeICEFailed, p.id, "connectivity lost again after ice restart", nil))
		return
	}

	p.restartAttempted = true
	p.restarting = true
	e.metrics.iceRestarts.Inc()
	cs.log.Warn("connectivity lost, restarting ice",
		zap.String("participant_id", p.id),
		zap.String("role", string(p.role)))

	e.arm(cs, restartTimer(p.id), e.cfg.ICERestartTimeout, func() {
		e.sendHangup(cs)
		e.finish(cs, ReasonConnectionLost,
			peer.NewNegotiationError(peer.ErrorCodeICETimeout, p.id, "connectivity was not restored after ice restart", nil))
	})
	if p.role == peer.RoleOfferer {
		e.sendOffer(cs, p, true)
	}
	e.publishParticipants(cs)
}

// negotiationFailed ошибка согласования завершает сессию
func (e *Engine) negotiationFailed(cs *callState, p *participant, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	cs.log.Warn("negotiation failed", zap.String("participant_id", p.id), zap.Error(err))
	e.sendHangup(cs)
	e.finish(cs, ReasonConnectionLost, err)
}
