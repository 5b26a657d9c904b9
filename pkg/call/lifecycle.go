package call

import (
	"time"

	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/signaling"
)

const (
	timerAcquire = "acquire"
	timerRing    = "ring"
	timerConnect = "connect"
	timerGrace   = "signaling-grace"
	timerTick    = "duration-tick"
)

func restartTimer(participantID string) string {
	return "ice-restart:" + participantID
}

// afterTransition побочные эффекты входа в фазу
func (e *Engine) afterTransition(cs *callState, src, dst Phase) {
	cs.session.Phase = dst
	e.metrics.transitions.WithLabelValues(string(src), string(dst)).Inc()
	cs.log.Info("call phase changed", zap.String("from", string(src)), zap.String("to", string(dst)))

	switch dst {
	case PhaseInitiating:
		e.arm(cs, timerAcquire, e.cfg.AcquireTimeout, func() { e.onAcquireTimeout(cs) })
	case PhaseOutgoingRinging:
		e.disarm(cs, timerAcquire)
		e.arm(cs, timerRing, e.cfg.RingTimeout, func() { e.onRingTimeout(cs) })
	case PhaseIncomingRinging:
		e.arm(cs, timerRing, e.cfg.IncomingRingTimeout, func() { e.onRingTimeout(cs) })
	case PhaseConnecting:
		e.disarm(cs, timerRing)
		e.arm(cs, timerConnect, e.cfg.ConnectTimeout, func() { e.onConnectTimeout(cs) })
	case PhaseActive:
		e.disarm(cs, timerConnect)
		cs.session.StartedAt = e.clock.Now()
		e.scheduleTick(cs)
	}
	e.publishState(cs)
}

func (e *Engine) scheduleTick(cs *callState) {
	e.arm(cs, timerTick, e.cfg.DurationTick, func() {
		if cs.phase() != PhaseActive {
			return
		}
		e.bus.publish(Event{
			Type:     EventDuration,
			Session:  cs.session.clone(),
			Duration: e.clock.Since(cs.session.StartedAt),
		})
		e.scheduleTick(cs)
	})
}

// notify ставит в outbox сообщение каждому участнику
func (e *Engine) notify(cs *callState, build func(to string) *signaling.Message) {
	for _, id := range cs.order {
		e.send(build(id))
	}
}

func (e *Engine) sendHangup(cs *callState) {
	e.notify(cs, func(to string) *signaling.Message {
		return signaling.NewHangup(cs.session.ID, e.cfg.SelfID, to)
	})
}

func (e *Engine) sendDecline(cs *callState, reason EndReason) {
	e.notify(cs, func(to string) *signaling.Message {
		return signaling.NewDecline(cs.session.ID, e.cfg.SelfID, to, string(reason))
	})
}

// hangup локальное завершение: отказ для входящего вызова, иначе hangup
func (e *Engine) hangup(cs *callState) {
	if cs.phase() == PhaseIncomingRinging {
		e.sendDecline(cs, ReasonDeclined)
		e.finish(cs, ReasonDeclined, nil)
		return
	}
	if cs.inviteSent || cs.session.Direction == DirectionIncoming {
		e.sendHangup(cs)
	}
	e.finish(cs, ReasonEnded, nil)
}

// finish завершает сессию и освобождает все ее ресурсы. Повторный вызов ничего не делает.
func (e *Engine) finish(cs *callState, reason EndReason, cause error) {
	if !cs.phase().Live() {
		return
	}

	cs.cancel()
	e.disarmAll(cs)
	cs.eachParticipant(func(p *participant) {
		p.queue.Close()
	})
	e.peers.CloseAll()
	e.devices.Release()
	cs.mediaReady = false

	now := e.clock.Now()
	cs.session.EndedAt = now
	if !cs.session.StartedAt.IsZero() {
		cs.session.Duration = now.Sub(cs.session.StartedAt)
		e.metrics.duration.Observe(cs.session.Duration.Seconds())
	}
	cs.session.EndReason = reason
	cs.session.Err = cause
	cs.session.Reconnecting = false

	if err := e.transition(cs, PhaseEnded); err != nil {
		cs.log.Error("failed to enter ended phase", zap.Error(err))
	}
	e.metrics.ended.WithLabelValues(string(reason)).Inc()
	e.metrics.live.Dec()

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Duration("duration", cs.session.Duration),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	cs.log.Info("call ended", fields...)

	if cause != nil {
		e.publishError(cs, cause)
	}
	e.publishLocalStream()
}

func (e *Engine) onRingTimeout(cs *callState) {
	cs.log.Info("ringing timed out", zap.Duration("after", e.clock.Since(cs.session.CreatedAt).Round(time.Second)))
	if cs.session.Direction == DirectionOutgoing {
		e.sendHangup(cs)
	} else {
		e.sendDecline(cs, ReasonNoAnswer)
	}
	e.finish(cs, ReasonNoAnswer, nil)
}

// onAcquireTimeout устройства не получены, приглашение еще не отправлено
func (e *Engine) onAcquireTimeout(cs *callState) {
	e.finish(cs, ReasonDeviceUnavailable, &media.DeviceError{
		Code:    media.ErrorCodeTimeout,
		Message: "media acquisition was not completed in time",
	})
}

func (e *Engine) onConnectTimeout(cs *callState) {
	var pending string
	cs.eachParticipant(func(p *participant) {
		if !p.connected && pending == "" {
			pending = p.id
		}
	})
	e.sendHangup(cs)
	e.finish(cs, ReasonConnectionLost,
		peer.NewNegotiationError(peer.ErrorCodeICETimeout, pending, "connectivity was not established in time", nil))
}

// onSignalingState сигнальное соединение потеряно или восстановлено
func (e *Engine) onSignalingState(state signaling.State) {
	cs := e.live()
	if cs == nil {
		return
	}
	switch state {
	case signaling.StateDisconnected:
		if cs.session.Reconnecting {
			return
		}
		cs.session.Reconnecting = true
		cs.log.Warn("signaling connection lost, waiting for reconnect", zap.Duration("grace", e.cfg.SignalingGrace))
		e.arm(cs, timerGrace, e.cfg.SignalingGrace, func() {
			e.finish(cs, ReasonConnectionLost, &signaling.Error{
				Code:    signaling.ErrorCodeDisconnected,
				Message: "signaling connection was not restored in time",
			})
			if n := e.outbox.discard(cs.session.ID); n > 0 {
				cs.log.Info("held signaling messages discarded", zap.Int("count", n))
			}
		})
		e.publishState(cs)
	case signaling.StateConnected:
		if !cs.session.Reconnecting {
			return
		}
		cs.session.Reconnecting = false
		e.disarm(cs, timerGrace)
		cs.log.Info("signaling connection restored")
		e.publishState(cs)
	}
}
