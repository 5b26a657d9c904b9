package call

import (
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/signaling"
)

func (e *Engine) handleTransportEvent(ev signaling.Event) {
	if ev.IsState() {
		if ev.State == signaling.StateConnected {
			e.outbox.resume()
		} else {
			e.outbox.pause()
		}
		e.onSignalingState(ev.State)
		return
	}
	msg := ev.Message
	e.metrics.messages.WithLabelValues("in", string(msg.Type)).Inc()

	if msg.ToID != "" && msg.ToID != e.cfg.SelfID {
		e.protocolError(&ProtocolError{
			Code:        ErrorCodeUnexpectedSender,
			SessionID:   msg.SessionID,
			FromID:      msg.FromID,
			MessageType: string(msg.Type),
			Phase:       e.currentPhase(),
		})
		return
	}

	if msg.Type == signaling.TypeInvite {
		e.onInvite(msg)
		return
	}

	cs, p, perr := e.match(msg)
	if perr != nil {
		e.protocolError(perr)
		return
	}

	switch msg.Type {
	case signaling.TypeAccept:
		e.onAccept(cs, p, msg)
	case signaling.TypeDecline:
		e.onDecline(cs, msg)
	case signaling.TypeBusy:
		e.onBusy(cs, msg)
	case signaling.TypeOffer:
		e.onOffer(cs, p, msg)
	case signaling.TypeAnswer:
		e.onAnswer(cs, p, msg)
	case signaling.TypeICECandidate:
		e.onRemoteCandidate(cs, p, msg)
	case signaling.TypeHangup:
		cs.log.Info("remote hung up", zap.String("from_id", msg.FromID))
		e.finish(cs, ReasonEnded, nil)
	}
}

// match находит сессию и участника для сообщения
func (e *Engine) match(msg *signaling.Message) (*callState, *participant, *ProtocolError) {
	perr := &ProtocolError{
		SessionID:   msg.SessionID,
		FromID:      msg.FromID,
		MessageType: string(msg.Type),
		Phase:       e.currentPhase(),
	}
	cs := e.cur
	if cs == nil || cs.session.ID != msg.SessionID {
		perr.Code = ErrorCodeUnknownSession
		return nil, nil, perr
	}
	if !cs.phase().Live() {
		perr.Code = ErrorCodeEndedSession
		return nil, nil, perr
	}
	p, ok := cs.participants[msg.FromID]
	if !ok {
		perr.Code = ErrorCodeUnexpectedSender
		return nil, nil, perr
	}
	return cs, p, nil
}

func (e *Engine) protocolError(perr *ProtocolError) {
	e.metrics.protocolErrors.WithLabelValues(perr.Code.String()).Inc()
	e.log.Warn("signaling message ignored", zap.Error(perr))
}

func (e *Engine) unexpected(cs *callState, msg *signaling.Message) {
	e.protocolError(&ProtocolError{
		Code:        ErrorCodeUnexpectedMessage,
		SessionID:   msg.SessionID,
		FromID:      msg.FromID,
		MessageType: string(msg.Type),
		Phase:       cs.phase(),
	})
}

func (e *Engine) onInvite(msg *signaling.Message) {
	if cs := e.live(); cs != nil {
		if cs.session.ID == msg.SessionID {
			cs.log.Debug("duplicate invite ignored")
			return
		}
		e.metrics.busyReplies.Inc()
		e.log.Info("incoming call rejected, line is busy",
			zap.String("session_id", msg.SessionID),
			zap.String("from_id", msg.FromID))
		e.send(signaling.NewBusy(msg.SessionID, e.cfg.SelfID, msg.FromID))
		return
	}
	if e.cur != nil && e.cur.session.ID == msg.SessionID {
		e.protocolError(&ProtocolError{
			Code:        ErrorCodeEndedSession,
			SessionID:   msg.SessionID,
			FromID:      msg.FromID,
			MessageType: string(msg.Type),
			Phase:       PhaseEnded,
		})
		return
	}

	cs := e.newCall(msg.SessionID, DirectionIncoming, msg.Kind, msg.FromID)
	cs.log.Info("incoming call", zap.String("from_id", msg.FromID))
	if err := e.transition(cs, PhaseIncomingRinging); err != nil {
		cs.log.Error("failed to enter incoming ringing", zap.Error(err))
	}
}

func (e *Engine) onAccept(cs *callState, p *participant, msg *signaling.Message) {
	if cs.phase() != PhaseOutgoingRinging {
		e.unexpected(cs, msg)
		return
	}
	cs.log.Info("call accepted", zap.String("from_id", p.id))
	if err := e.transition(cs, PhaseConnecting); err != nil {
		cs.log.Error("failed to enter connecting", zap.Error(err))
		return
	}
	e.openParticipant(cs, p, peer.RoleOfferer)
	e.sendOffer(cs, p, false)
}

func (e *Engine) onDecline(cs *callState, msg *signaling.Message) {
	if cs.session.Direction != DirectionOutgoing {
		e.unexpected(cs, msg)
		return
	}
	cs.log.Info("call declined", zap.String("reason", msg.Reason))
	e.finish(cs, ReasonDeclined, nil)
}

func (e *Engine) onBusy(cs *callState, msg *signaling.Message) {
	switch cs.phase() {
	case PhaseInitiating, PhaseOutgoingRinging:
		cs.log.Info("callee is busy")
		e.finish(cs, ReasonBusy, nil)
	default:
		e.unexpected(cs, msg)
	}
}
