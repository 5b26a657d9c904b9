package call

import (
	"context"
	"strings"

	"github.com/looplab/fsm"

	"github.com/arzzra/call_engine/pkg/ringtone"
)

func formEventName(src, dst Phase) string {
	builder := strings.Builder{}
	builder.WriteString(string(src))
	builder.WriteString("_to_")
	builder.WriteString(string(dst))
	return builder.String()
}

/*
Фазы сессии:
   - idle:             сессия создана, ничего не отправлено
   - initiating:       исходящий звонок, захват локального медиа
   - outgoing_ringing: invite отправлен, ждем accept
   - incoming_ringing: получен invite, ждем решения пользователя
   - connecting:       звонок принят, идет обмен описаниями и ICE
   - active:           все участники на связи
   - ended:            конечная фаза, ресурсы освобождены

Переходы:
   idle -> initiating -> outgoing_ringing -> connecting -> active
   idle -> incoming_ringing -> connecting -> active
   любая незавершенная фаза -> ended

Событие перехода называется formEventName(src, dst), например "connecting_to_active".

Коллбеки:
   - after_event:            метрики и лог каждого перехода
   - enter_outgoing_ringing: сигнал ожидания ответа
   - enter_incoming_ringing: звонок
   - leave_*_ringing:        остановка сигнала
*/
func (e *Engine) initFSM(cs *callState) {
	events := fsm.Events{
		{Name: formEventName(PhaseIdle, PhaseInitiating), Src: []string{string(PhaseIdle)}, Dst: string(PhaseInitiating)},
		{Name: formEventName(PhaseInitiating, PhaseOutgoingRinging), Src: []string{string(PhaseInitiating)}, Dst: string(PhaseOutgoingRinging)},
		{Name: formEventName(PhaseIdle, PhaseIncomingRinging), Src: []string{string(PhaseIdle)}, Dst: string(PhaseIncomingRinging)},
		{Name: formEventName(PhaseIncomingRinging, PhaseConnecting), Src: []string{string(PhaseIncomingRinging)}, Dst: string(PhaseConnecting)},
		{Name: formEventName(PhaseOutgoingRinging, PhaseConnecting), Src: []string{string(PhaseOutgoingRinging)}, Dst: string(PhaseConnecting)},
		{Name: formEventName(PhaseConnecting, PhaseActive), Src: []string{string(PhaseConnecting)}, Dst: string(PhaseActive)},
	}
	for _, src := range []Phase{PhaseInitiating, PhaseOutgoingRinging, PhaseIncomingRinging, PhaseConnecting, PhaseActive} {
		events = append(events, fsm.EventDesc{
			Name: formEventName(src, PhaseEnded),
			Src:  []string{string(src)},
			Dst:  string(PhaseEnded),
		})
	}

	cs.machine = fsm.NewFSM(
		string(PhaseIdle),
		events,
		fsm.Callbacks{
			"after_event": func(_ context.Context, ev *fsm.Event) {
				e.afterTransition(cs, Phase(ev.Src), Phase(ev.Dst))
			},
			"enter_" + PhaseOutgoingRinging.String(): func(_ context.Context, _ *fsm.Event) {
				e.ringer.Start(ringtone.CueRingback)
			},
			"enter_" + PhaseIncomingRinging.String(): func(_ context.Context, _ *fsm.Event) {
				e.ringer.Start(ringtone.CueRing)
			},
			"leave_" + PhaseOutgoingRinging.String(): func(_ context.Context, _ *fsm.Event) {
				e.ringer.Stop()
			},
			"leave_" + PhaseIncomingRinging.String(): func(_ context.Context, _ *fsm.Event) {
				e.ringer.Stop()
			},
		},
	)
}

// transition переводит сессию в фазу dst
func (e *Engine) transition(cs *callState, dst Phase) error {
	return cs.machine.Event(context.TODO(), formEventName(cs.phase(), dst))
}
