package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Config параметры менеджера подключения
type Config struct {
	// Reconnect включает автоматическое переподключение после обрыва
	Reconnect    bool
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// SubscriberBuffer размер буфера канала подписчика
	SubscriberBuffer int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Reconnect:        true,
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		SubscriberBuffer: 256,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Reconnect && c.ReconnectMin <= 0 {
		return errors.New("reconnect min delay must be positive")
	}
	if c.Reconnect && c.ReconnectMax < c.ReconnectMin {
		return errors.New("reconnect max delay must not be less than min delay")
	}
	if c.SubscriberBuffer < 0 {
		return errors.New("subscriber buffer must not be negative")
	}
	return nil
}

// Options зависимости менеджера
type Options struct {
	Logger     *zap.Logger
	Clock      clock.Clock
	Registerer prometheus.Registerer
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// Manager менеджер подключения к сигнальному серверу, реализует Transport
type Manager struct {
	dialer Dialer
	cfg    Config
	log    *zap.Logger
	clock  clock.Clock

	messages  *prometheus.CounterVec
	malformed prometheus.Counter
	redials   prometheus.Counter

	mu         sync.RWMutex
	conn       Conn
	gen        uint64
	state      State
	credential string
	userClosed bool
	runCtx     context.Context
	runCancel  context.CancelFunc

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[*subscriber]struct{}
}

var _ Transport = (*Manager)(nil)

// NewManager создает менеджер. Подключение выполняется явно через Connect.
func NewManager(dialer Dialer, cfg Config, opts Options) (*Manager, error) {
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid signaling config")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(opts.Registerer)

	return &Manager{
		dialer: dialer,
		cfg:    cfg,
		log:    opts.Logger.Named("signaling"),
		clock:  opts.Clock,
		state:  StateDisconnected,
		subs:   make(map[*subscriber]struct{}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "signaling",
			Name:      "messages_total",
			Help:      "Сигнальные сообщения по направлению и типу",
		}, []string{"direction", "type"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "signaling",
			Name:      "malformed_messages_total",
			Help:      "Входящие сообщения, не прошедшие разбор",
		}),
		redials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "signaling",
			Name:      "reconnects_total",
			Help:      "Попытки переподключения после обрыва",
		}),
	}, nil
}

// Connect подключается к серверу. Повторный вызов при активном подключении ничего не делает.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.credential = credential
	m.userClosed = false
	if m.runCtx == nil {
		m.runCtx, m.runCancel = context.WithCancel(context.Background())
	}
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect закрывает соединение и останавливает переподключение
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userClosed = true
	if m.runCancel != nil {
		m.runCancel()
	}
	m.runCtx, m.runCancel = nil, nil
	conn := m.conn
	m.conn = nil
	m.gen++
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.setState(StateDisconnected)
	m.log.Info("signaling disconnected by user")
}

// State текущее состояние подключения
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Send отправляет сообщение
func (m *Manager) Send(ctx context.Context, msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrDisconnected
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(ctx, data)
	m.writeMu.Unlock()
	if err != nil {
		return &Error{Code: ErrorCodeSendFailed, Message: string(msg.Type), Wrapped: err}
	}

	m.messages.WithLabelValues("out", string(msg.Type)).Inc()
	return nil
}

// Subscribe подписывает на входящие сообщения и смены состояния
func (m *Manager) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		ch:   make(chan Event, m.cfg.SubscriberBuffer),
		done: make(chan struct{}),
	}
	m.subsMu.Lock()
	m.subs[s] = struct{}{}
	m.subsMu.Unlock()

	return s.ch, func() {
		s.once.Do(func() {
			close(s.done)
			m.subsMu.Lock()
			delete(m.subs, s)
			m.subsMu.Unlock()
		})
	}
}

func (m *Manager) publish(ev Event) {
	m.subsMu.RLock()
	subs := make([]*subscriber, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.subsMu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.log.Debug("signaling state changed", zap.String("state", string(state)))
	m.publish(Event{State: state})
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.RLock()
	credential := m.credential
	m.mu.RUnlock()

	m.setState(StateConnecting)
	conn, err := m.dialer.Dial(ctx, credential)
	if err != nil {
		m.setState(StateDisconnected)
		return &Error{Code: ErrorCodeDialFailed, Message: "dial signaling server", Wrapped: err}
	}

	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		_ = conn.Close()
		m.setState(StateDisconnected)
		return ErrDisconnected
	}
	prev := m.conn
	m.conn = conn
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	m.setState(StateConnected)
	m.log.Info("signaling connected")
	go m.readLoop(conn, gen)
	return nil
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			m.malformed.Inc()
			m.log.Warn("malformed signaling message", zap.Error(err))
			continue
		}
		m.messages.WithLabelValues("in", string(msg.Type)).Inc()
		m.publish(Event{Message: msg})
	}
}

func (m *Manager) handleDrop(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	reconnect := m.cfg.Reconnect && !m.userClosed
	ctx := m.runCtx
	m.mu.Unlock()

	_ = conn.Close()
	m.log.Warn("signaling connection lost", zap.Error(cause), zap.Bool("reconnect", reconnect))
	m.setState(StateDisconnected)

	if reconnect && ctx != nil {
		go m.reconnectLoop(ctx)
	}
}

func (m *Manager) reconnectLoop(ctx context.Context) {
	delay := m.cfg.ReconnectMin
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(delay):
		}

		m.redials.Inc()
		err := m.dial(ctx)
		if err == nil {
			m.log.Info("signaling reconnected", zap.Int("attempt", attempt))
			return
		}
		if errors.Is(err, ErrDisconnected) {
			return
		}
		m.log.Debug("signaling redial failed", zap.Int("attempt", attempt), zap.Error(err))

		delay *= 2
		if delay > m.cfg.ReconnectMax {
			delay = m.cfg.ReconnectMax
		}
	}
}
