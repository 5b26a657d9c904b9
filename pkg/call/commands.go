package call

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/signaling"
)

func (e *Engine) currentPhase() Phase {
	if e.cur == nil {
		return PhaseIdle
	}
	return e.cur.phase()
}

func (e *Engine) ignored(command string) error {
	phase := e.currentPhase()
	e.log.Debug("command ignored", zap.String("command", command), zap.String("phase", string(phase)))
	return &CommandError{Command: command, Phase: phase}
}

// StartCall начинает исходящий звонок и возвращает идентификатор сессии
func (e *Engine) StartCall(ctx context.Context, remoteID string, kind rtc.CallKind) (string, error) {
	if remoteID == "" || remoteID == e.cfg.SelfID {
		return "", errors.Wrapf(ErrInvalidArgument, "remote id %q", remoteID)
	}
	if !kind.Valid() {
		return "", errors.Wrapf(ErrInvalidArgument, "call kind %q", kind)
	}

	var sessionID string
	err := e.do(ctx, func() error {
		if e.live() != nil {
			e.metrics.rejected.Inc()
			return ErrCallInProgress
		}
		if e.transport.State() != signaling.StateConnected {
			return signaling.ErrDisconnected
		}

		cs := e.newCall(uuid.NewString(), DirectionOutgoing, kind, remoteID)
		if err := e.transition(cs, PhaseInitiating); err != nil {
			return errors.Wrap(err, "start call")
		}
		cs.log.Info("starting call", zap.String("remote_id", remoteID))

		e.acquire(cs, func(media.LocalStream) {
			e.send(signaling.NewInvite(cs.session.ID, e.cfg.SelfID, remoteID, kind))
			cs.inviteSent = true
			if err := e.transition(cs, PhaseOutgoingRinging); err != nil {
				cs.log.Error("failed to enter outgoing ringing", zap.Error(err))
			}
		}, func(err error) {
			e.finish(cs, ReasonDeviceUnavailable, err)
		})

		sessionID = cs.session.ID
		return nil
	})
	return sessionID, err
}

// AnswerCall принимает входящий звонок
func (e *Engine) AnswerCall(ctx context.Context) error {
	return e.do(ctx, func() error {
		cs := e.live()
		if cs == nil || cs.phase() != PhaseIncomingRinging {
			return e.ignored("answer")
		}
		if err := e.transition(cs, PhaseConnecting); err != nil {
			return errors.Wrap(err, "answer call")
		}

		e.acquire(cs, func(media.LocalStream) {
			cs.eachParticipant(func(p *participant) {
				e.openParticipant(cs, p, peer.RoleAnswerer)
				e.send(signaling.NewAccept(cs.session.ID, e.cfg.SelfID, p.id))
			})
		}, func(err error) {
			e.sendDecline(cs, ReasonDeviceUnavailable)
			e.finish(cs, ReasonDeviceUnavailable, err)
		})
		return nil
	})
}

// DeclineCall отклоняет входящий звонок
func (e *Engine) DeclineCall(ctx context.Context) error {
	return e.do(ctx, func() error {
		cs := e.live()
		if cs == nil || cs.phase() != PhaseIncomingRinging {
			return e.ignored("decline")
		}
		e.sendDecline(cs, ReasonDeclined)
		e.finish(cs, ReasonDeclined, nil)
		return nil
	})
}

// EndCall завершает звонок в любой незавершенной фазе
func (e *Engine) EndCall(ctx context.Context) error {
	return e.do(ctx, func() error {
		cs := e.live()
		if cs == nil {
			return e.ignored("end")
		}
		e.hangup(cs)
		return nil
	})
}

// ToggleMute переключает микрофон и возвращает признак выключенного звука.
// Пересогласование не выполняется.
func (e *Engine) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := e.do(ctx, func() error {
		cs := e.live()
		if cs == nil || !cs.mediaReady {
			return e.ignored("toggle-mute")
		}
		var err error
		if muted, err = e.devices.ToggleMute(); err != nil {
			return err
		}
		cs.log.Debug("microphone toggled", zap.Bool("muted", muted))
		e.publishLocalStream()
		return nil
	})
	return muted, err
}

// ToggleVideo включает или выключает исходящее видео
func (e *Engine) ToggleVideo(ctx context.Context) (bool, error) {
	var enabled bool
	err := e.do(ctx, func() error {
		cs := e.live()
		if cs == nil || !cs.mediaReady {
			return e.ignored("toggle-video")
		}
		var err error
		if enabled, err = e.devices.ToggleVideo(); err != nil {
			return err
		}
		cs.log.Debug("video toggled", zap.Bool("enabled", enabled))
		e.publishLocalStream()
		return nil
	})
	return enabled, err
}

// ToggleScreenShare включает или выключает демонстрацию экрана в видео слоте.
// Возвращает признак активной демонстрации.
func (e *Engine) ToggleScreenShare(ctx context.Context) (bool, error) {
	var (
		cs    *callState
		epoch uint64
		start bool
	)
	err := e.do(ctx, func() error {
		cs = e.live()
		if cs == nil || !cs.mediaReady || cs.shareBusy {
			return e.ignored("toggle-screen-share")
		}
		if cs.session.Kind != rtc.CallVideo {
			return media.ErrNoVideo
		}
		cs.shareBusy = true
		epoch = cs.epoch
		start = !e.devices.ScreenSharing()
		return nil
	})
	if err != nil {
		return false, err
	}

	// выбор экрана может ждать пользователя, цикл не блокируется
	var shareErr error
	if start {
		_, shareErr = e.devices.StartScreenShare(ctx)
	} else {
		_, shareErr = e.devices.StopScreenShare(ctx)
	}

	var sharing bool
	err = e.do(context.Background(), func() error {
		if e.cur == cs {
			cs.shareBusy = false
		}
		sharing = e.devices.ScreenSharing()
		if !e.alive(cs, epoch) {
			return nil
		}
		e.applyVideoSlot(cs)
		return nil
	})
	if shareErr != nil {
		return sharing, shareErr
	}
	return sharing, err
}

// applyVideoSlot подставляет текущий видео трек во все соединения
func (e *Engine) applyVideoSlot(cs *callState) {
	stream, ok := e.devices.Stream()
	if !ok {
		return
	}
	if err := e.peers.ReplaceTrack(rtc.TrackVideo, stream.Video); err != nil {
		cs.log.Warn("failed to replace video track", zap.Error(err))
	}
	cs.log.Info("video source changed", zap.Bool("screen_sharing", stream.ScreenSharing))
	e.publishLocalStream()
}

// onScreenShareEnded демонстрация остановлена источником, возвращаем камеру
func (e *Engine) onScreenShareEnded() {
	cs := e.live()
	if cs == nil || !cs.mediaReady || cs.shareBusy {
		return
	}
	cs.shareBusy = true
	epoch := cs.epoch
	ctx := cs.ctx
	go func() {
		_, err := e.devices.StopScreenShare(ctx)
		e.post(func() {
			if e.cur == cs {
				cs.shareBusy = false
			}
			if !e.alive(cs, epoch) {
				return
			}
			if err != nil {
				cs.log.Warn("failed to restore camera after screen share", zap.Error(err))
			}
			e.applyVideoSlot(cs)
		})
	}()
}

// acquire захватывает медиа вне цикла. Результат для завершенной сессии отбрасывается.
func (e *Engine) acquire(cs *callState, onReady func(media.LocalStream), onFail func(error)) {
	epoch, ctx, kind := cs.epoch, cs.ctx, cs.session.Kind
	go func() {
		stream, err := e.devices.Acquire(ctx, kind)
		e.post(func() {
			if !e.alive(cs, epoch) {
				cs.log.Debug("media acquisition finished after session end, result discarded")
				return
			}
			if err != nil {
				cs.log.Warn("media acquisition failed", zap.Error(err))
				onFail(err)
				return
			}
			cs.mediaReady = true
			cs.log.Info("local media acquired", zap.Int("tracks", len(stream.Tracks())))
			e.publishLocalStream()
			onReady(stream)
		})
	}()
}
