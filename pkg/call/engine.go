package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/peer"
	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/ringtone"
	"github.com/arzzra/call_engine/pkg/signaling"
	"github.com/arzzra/call_engine/pkg/streams"
)

// Engine движок звонков одного пользователя.
//
// Все изменения состояния выполняются в одной горутине цикла событий:
// команды, сигнальные сообщения, уведомления платформы, таймеры и
// результаты асинхронной работы попадают в inbox как замыкания.
type Engine struct {
	cfg       Config
	transport signaling.Transport
	devices   Devices
	peers     Peers
	streams   StreamSource
	ringer    Ringer
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics
	bus       *bus
	outbox    *outbox

	inbox chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce     sync.Once
	unsubscribers []func()
	remotePending atomic.Bool

	// поля ниже принадлежат горутине цикла
	cur   *callState
	epoch uint64

	// снимок для читателей вне цикла
	viewMu       sync.RWMutex
	view         Session
	hasView      bool
	participants []Participant
	lastErr      error
}

// callState состояние текущей сессии, доступно только из цикла
type callState struct {
	session Session
	epoch   uint64
	machine *fsm.FSM
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger

	participants map[string]*participant
	order        []string
	timers       map[string]*clock.Timer

	inviteSent  bool
	mediaReady  bool
	shareBusy   bool
	tickStarted bool
}

type participant struct {
	id    string
	role  peer.Role
	queue *serialQueue

	opened           bool
	state            rtc.ConnectionState
	connected        bool
	restartAttempted bool
	restarting       bool
}

func (cs *callState) phase() Phase {
	return Phase(cs.machine.Current())
}

func (cs *callState) eachParticipant(fn func(p *participant)) {
	for _, id := range cs.order {
		fn(cs.participants[id])
	}
}

// New создает и запускает движок
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid call config")
	}
	switch {
	case deps.Transport == nil:
		return nil, errors.New("signaling transport is required")
	case deps.Devices == nil:
		return nil, errors.New("device controller is required")
	case deps.Peers == nil:
		return nil, errors.New("peer manager is required")
	case deps.Streams == nil:
		return nil, errors.New("stream registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Ringer == nil {
		deps.Ringer = ringtone.NewPlayer(ringtone.NopSink{}, ringtone.Options{Logger: deps.Logger})
	}

	log := deps.Logger.Named("call").With(zap.String("self_id", cfg.SelfID))
	m := newMetrics(deps.Registerer)

	e := &Engine{
		cfg:       cfg,
		transport: deps.Transport,
		devices:   deps.Devices,
		peers:     deps.Peers,
		streams:   deps.Streams,
		ringer:    deps.Ringer,
		clock:     deps.Clock,
		log:       log,
		metrics:   m,
		bus:       newBus(log),
		outbox:    newOutbox(deps.Transport, cfg.SendTimeout, cfg.SignalingGrace, deps.Clock, log.Named("outbox"), m),
		inbox:     make(chan func(), cfg.InboxSize),
		done:      make(chan struct{}),
	}

	e.peers.SetCallbacks(peer.Callbacks{
		OnLocalCandidate: func(participantID string, c rtc.ICECandidate) {
			e.post(func() { e.onLocalCandidate(participantID, c) })
		},
		OnStateChange: func(participantID string, state rtc.ConnectionState) {
			e.post(func() { e.onConnectionState(participantID, state) })
		},
	})
	e.devices.OnScreenShareEnded(func() {
		e.post(e.onScreenShareEnded)
	})
	// реестр уведомляет и из цикла (при закрытии соединений), поэтому
	// публикация откладывается и схлопывается
	e.unsubscribers = append(e.unsubscribers, e.streams.Subscribe(func(streams.Change) {
		if e.remotePending.CompareAndSwap(false, true) {
			go e.post(func() {
				e.remotePending.Store(false)
				e.publishRemoteStreams()
			})
		}
	}))

	events, unsubscribe := e.transport.Subscribe()
	e.unsubscribers = append(e.unsubscribers, unsubscribe)

	e.wg.Add(2)
	go e.run()
	go e.forward(events)

	return e, nil
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.inbox:
			fn()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) forward(events <-chan signaling.Event) {
	defer e.wg.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.post(func() { e.handleTransportEvent(ev) })
		case <-e.done:
			return
		}
	}
}

// post ставит замыкание в цикл. После остановки движка возвращает false.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.inbox <- fn:
		return true
	case <-e.done:
		return false
	}
}

// do выполняет fn в цикле и ждет результат
func (e *Engine) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !e.post(func() { res <- fn() }) {
		return ErrEngineClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineClosed
	}
}

// Close завершает текущую сессию и останавливает движок
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		_ = e.do(context.Background(), func() error {
			if cs := e.live(); cs != nil {
				e.hangup(cs)
			}
			return nil
		})
		close(e.done)
		for _, unsubscribe := range e.unsubscribers {
			unsubscribe()
		}
		e.wg.Wait()
		e.outbox.close()
		e.bus.close()
		e.log.Info("call engine stopped")
	})
	return nil
}

// live возвращает текущую незавершенную сессию
func (e *Engine) live() *callState {
	if e.cur == nil || !e.cur.phase().Live() {
		return nil
	}
	return e.cur
}

// alive проверяет, что результат асинхронной работы относится к живой сессии
func (e *Engine) alive(cs *callState, epoch uint64) bool {
	return e.cur == cs && cs.epoch == epoch && cs.phase().Live()
}

func (e *Engine) newCall(id string, dir Direction, kind rtc.CallKind, remoteID string) *callState {
	e.epoch++
	ctx, cancel := context.WithCancel(context.Background())
	cs := &callState{
		session: Session{
			ID:           id,
			Direction:    dir,
			Kind:         kind,
			Phase:        PhaseIdle,
			Participants: []string{remoteID},
			CreatedAt:    e.clock.Now(),
		},
		epoch:  e.epoch,
		ctx:    ctx,
		cancel: cancel,
		log: e.log.With(
			zap.String("session_id", id),
			zap.String("direction", string(dir)),
			zap.String("kind", string(kind))),
		participants: map[string]*participant{
			remoteID: {id: remoteID, queue: newSerialQueue(), state: rtc.ConnectionNew},
		},
		order:  []string{remoteID},
		timers: make(map[string]*clock.Timer),
	}
	e.initFSM(cs)
	e.cur = cs

	e.viewMu.Lock()
	e.lastErr = nil
	e.viewMu.Unlock()

	e.metrics.started.WithLabelValues(string(dir)).Inc()
	e.metrics.live.Inc()
	return cs
}

// arm запускает таймер сессии; срабатывание выполняется в цикле
func (e *Engine) arm(cs *callState, key string, d time.Duration, fn func()) {
	e.disarm(cs, key)
	var t *clock.Timer
	t = e.clock.AfterFunc(d, func() {
		e.post(func() {
			if cs.timers[key] != t || !cs.phase().Live() {
				return
			}
			delete(cs.timers, key)
			cs.log.Debug("timer fired", zap.String("timer", key))
			fn()
		})
	})
	cs.timers[key] = t
}

func (e *Engine) disarm(cs *callState, key string) {
	if t, ok := cs.timers[key]; ok {
		t.Stop()
		delete(cs.timers, key)
	}
}

func (e *Engine) disarmAll(cs *callState) {
	for key := range cs.timers {
		e.disarm(cs, key)
	}
}

func (e *Engine) send(msg *signaling.Message) {
	e.outbox.enqueue(msg)
}

// Subscribe подписывает на события движка. Обработчик вызывается в отдельной горутине.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.bus.subscribe(fn)
}

// State текущая фаза. Без сессий возвращает idle.
func (e *Engine) State() Phase {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	if !e.hasView {
		return PhaseIdle
	}
	return e.view.Phase
}

// Session снимок текущей или последней завершенной сессии
func (e *Engine) Session() (Session, bool) {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view.clone(), e.hasView
}

// LocalStream локальное медиа текущей сессии
func (e *Engine) LocalStream() (media.LocalStream, bool) {
	return e.devices.Stream()
}

// RemoteStreams копия удаленных потоков по участникам
func (e *Engine) RemoteStreams() map[string]streams.Stream {
	return e.streams.Snapshot()
}

// Participants состояние соединений с участниками
func (e *Engine) Participants() []Participant {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return append([]Participant(nil), e.participants...)
}

// Duration длительность звонка: текущая для активного, итоговая для завершенного
func (e *Engine) Duration() time.Duration {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	switch {
	case !e.hasView:
		return 0
	case e.view.Phase == PhaseActive:
		return e.clock.Since(e.view.StartedAt)
	default:
		return e.view.Duration
	}
}

// Err последняя ошибка текущей или последней сессии
func (e *Engine) Err() error {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.lastErr
}

func (e *Engine) updateView(cs *callState) {
	cs.session.Phase = cs.phase()
	parts := make([]Participant, 0, len(cs.order))
	cs.eachParticipant(func(p *participant) {
		parts = append(parts, Participant{
			ID:               p.id,
			Role:             p.role,
			State:            p.state,
			Connected:        p.connected,
			RestartAttempted: p.restartAttempted,
		})
	})

	e.viewMu.Lock()
	e.view = cs.session.clone()
	e.hasView = true
	e.participants = parts
	e.viewMu.Unlock()
}

func (e *Engine) publishState(cs *callState) {
	e.updateView(cs)
	e.bus.publish(Event{Type: EventState, Session: cs.session.clone()})
}

func (e *Engine) publishParticipants(cs *callState) {
	e.updateView(cs)
	e.bus.publish(Event{Type: EventParticipants, Session: cs.session.clone(), Participants: e.Participants()})
}

func (e *Engine) publishLocalStream() {
	stream, ok := e.devices.Stream()
	if !ok {
		e.bus.publish(Event{Type: EventLocalStream})
		return
	}
	e.bus.publish(Event{Type: EventLocalStream, LocalStream: &stream})
}

func (e *Engine) publishRemoteStreams() {
	e.bus.publish(Event{Type: EventRemoteStreams, RemoteStreams: e.streams.Snapshot()})
}

func (e *Engine) publishError(cs *callState, err error) {
	e.viewMu.Lock()
	e.lastErr = err
	e.viewMu.Unlock()
	e.bus.publish(Event{Type: EventError, Session: cs.session.clone(), Err: err})
}
