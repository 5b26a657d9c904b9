package peer

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arzzra/call_engine/pkg/rtc"
	"github.com/arzzra/call_engine/pkg/streams"
)

// Config параметры менеджера соединений
type Config struct {
	ICEServers []rtc.ICEServer
	// EarlyCandidateLimit ограничивает число кандидатов на участника без соединения
	EarlyCandidateLimit int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ICEServers: []rtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		EarlyCandidateLimit: 128,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.EarlyCandidateLimit <= 0 {
		return errors.New("early candidate limit must be positive")
	}
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return errors.Errorf("ice server %d has no urls", i)
		}
	}
	return nil
}

// Callbacks уведомления менеджера. Вызываются из горутин платформы.
type Callbacks struct {
	OnLocalCandidate func(participantID string, c rtc.ICECandidate)
	OnStateChange    func(participantID string, state rtc.ConnectionState)
}

// Options зависимости менеджера
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Manager менеджер соединений с участниками
type Manager struct {
	platform rtc.Platform
	registry *streams.Registry
	cfg      Config
	log      *zap.Logger
	metrics  *metrics

	mu        sync.RWMutex
	conns     map[string]*Connection
	early     map[string][]rtc.ICECandidate
	tombstone map[string]bool
	callbacks Callbacks
}

// NewManager создает менеджер
func NewManager(platform rtc.Platform, registry *streams.Registry, cfg Config, opts Options) (*Manager, error) {
	if platform == nil {
		return nil, errors.New("platform is required")
	}
	if registry == nil {
		return nil, errors.New("stream registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid peer config")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		platform:  platform,
		registry:  registry,
		cfg:       cfg,
		log:       opts.Logger.Named("peer"),
		metrics:   newMetrics(opts.Registerer),
		conns:     make(map[string]*Connection),
		early:     make(map[string][]rtc.ICECandidate),
		tombstone: make(map[string]bool),
	}, nil
}

// SetCallbacks задает обработчики уведомлений
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.callbacks = cb
	m.mu.Unlock()
}

func (m *Manager) getCallbacks() Callbacks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callbacks
}

// Open создает соединение с участником. Если соединение уже открыто, возвращает его.
func (m *Manager) Open(ctx context.Context, participantID string, role Role) (*Connection, error) {
	if participantID == "" {
		return nil, errors.New("participant id is required")
	}
	if role != RoleOfferer && role != RoleAnswerer {
		return nil, errors.Errorf("unknown role %q", role)
	}

	m.mu.RLock()
	existing, ok := m.conns[participantID]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}

	pc, err := m.platform.NewPeerConnection(ctx, rtc.Config{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, errors.Wrapf(err, "create peer connection for %s", participantID)
	}

	log := m.log.With(zap.String("participant_id", participantID), zap.String("role", string(role)))
	conn := newConnection(participantID, role, pc, log)

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = pc.Close()
		return nil, ctx.Err()
	}
	if existing, ok := m.conns[participantID]; ok {
		m.mu.Unlock()
		_ = pc.Close()
		return existing, nil
	}
	conn.pending = m.early[participantID]
	delete(m.early, participantID)
	delete(m.tombstone, participantID)
	m.conns[participantID] = conn
	m.mu.Unlock()

	m.wire(conn)
	m.metrics.opened.Inc()
	m.metrics.active.Inc()
	log.Info("peer connection opened", zap.Int("early_candidates", len(conn.pending)))
	return conn, nil
}

func (m *Manager) wire(conn *Connection) {
	pid := conn.participantID

	conn.pc.OnICECandidate(func(c rtc.ICECandidate) {
		if conn.Closed() {
			return
		}
		if cb := m.getCallbacks().OnLocalCandidate; cb != nil {
			cb(pid, c)
		}
	})
	// трек добавляется до закрытия, иначе Close уже удалил запись участника
	conn.pc.OnTrack(func(t rtc.RemoteTrack) {
		if !conn.whileOpen(func() { m.registry.AddTrack(pid, t) }) {
			conn.log.Debug("remote track after close ignored", zap.String("track_id", t.ID()))
		}
	})
	conn.pc.OnTrackEnded(func(t rtc.RemoteTrack) {
		m.registry.RemoveTrack(pid, t.ID())
	})
	conn.pc.OnPacket(func(_ rtc.RemoteTrack, pkt *rtp.Packet) {
		m.registry.RecordPacket(pid, pkt)
	})
	conn.pc.OnConnectionStateChange(func(s rtc.ConnectionState) {
		if !conn.setState(s) {
			return
		}
		conn.log.Debug("connection state changed", zap.String("state", string(s)))
		if cb := m.getCallbacks().OnStateChange; cb != nil {
			cb(pid, s)
		}
	})
}

// Get возвращает соединение участника
func (m *Manager) Get(participantID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[participantID]
	return c, ok
}

// Connections возвращает снимок открытых соединений
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) lookup(participantID string) (*Connection, error) {
	conn, ok := m.Get(participantID)
	if !ok {
		return nil, errors.Wrap(ErrUnknownParticipant, participantID)
	}
	return conn, nil
}

// CreateOffer прикрепляет локальные треки и создает offer.
// С opts.ICERestart создается restart offer, кандидаты снова буферизуются до ответа.
func (m *Manager) CreateOffer(ctx context.Context, participantID string, tracks []rtc.LocalTrack, opts rtc.OfferOptions) (rtc.SessionDescription, error) {
	if len(tracks) == 0 {
		return rtc.SessionDescription{}, ErrMediaNotAcquired
	}
	conn, err := m.lookup(participantID)
	if err != nil {
		return rtc.SessionDescription{}, err
	}
	if conn.role != RoleOfferer {
		return rtc.SessionDescription{}, NewNegotiationError(ErrorCodeWrongRole, participantID, "answerer cannot create offers", nil)
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	if conn.Closed() {
		return rtc.SessionDescription{}, ErrConnectionClosed
	}
	if err := conn.attachTracks(tracks); err != nil {
		return rtc.SessionDescription{}, m.fail(ErrorCodeDescriptionFailed, participantID, "attach local tracks", err)
	}

	desc, err := conn.pc.CreateOffer(ctx, opts)
	if err != nil {
		return rtc.SessionDescription{}, m.fail(ErrorCodeDescriptionFailed, participantID, "create offer", err)
	}
	if opts.ICERestart {
		conn.markRemotePending()
		m.metrics.restarts.Inc()
	}
	if err := conn.pc.SetLocalDescription(ctx, desc); err != nil {
		return rtc.SessionDescription{}, m.fail(ErrorCodeDescriptionFailed, participantID, "set local offer", err)
	}

	conn.log.Debug("offer created", zap.Bool("ice_restart", opts.ICERestart))
	return desc, nil
}

// CreateAnswer прикрепляет локальные треки и создает answer на примененный offer
func (m *Manager) CreateAnswer(ctx context.Context, participantID string, tracks []rtc.LocalTrack) (rtc.SessionDescription, error) {
	if len(tracks) == 0 {
		return rtc.SessionDescription{}, ErrMediaNotAcquired
	}
	conn, err := m.lookup(participantID)
	if err != nil {
		return rtc.SessionDescription{}, err
	}
	if conn.role != RoleAnswerer {
		return rtc.SessionDescription{}, NewNegotiationError(ErrorCodeWrongRole, participantID, "offerer cannot create answers", nil)
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	if conn.Closed() {
		return rtc.SessionDescription{}, ErrConnectionClosed
	}
	if err := conn.attachTracks(tracks); err != nil {
		return rtc.SessionDescription{}, m.fail(ErrorCodeDescriptionFailed, participantID, "attach local tracks", err)
	}

	desc, err := conn.pc.CreateAnswer(ctx)
	if err != nil {
		return rtc.SessionDescription{}, m.fail(ErrorCodeDescriptionFailed, participantID, "create answer", err)
	}
	if err := conn.pc.SetLocalDescription(ctx, desc); err != nil {
		return rtc.SessionDescription{}, m.fail(ErrorCodeDescriptionFailed, participantID, "set local answer", err)
	}

	conn.log.Debug("answer created")
	return desc, nil
}

// ApplyRemoteDescription проверяет и применяет удаленное описание,
// затем применяет отложенных кандидатов в порядке поступления
func (m *Manager) ApplyRemoteDescription(ctx context.Context, participantID string, desc rtc.SessionDescription) error {
	conn, err := m.lookup(participantID)
	if err != nil {
		return err
	}
	if desc.Type == rtc.SDPOffer && conn.role == RoleOfferer {
		return NewNegotiationError(ErrorCodeWrongRole, participantID, "offer received by the offering side", nil)
	}
	if desc.Type == rtc.SDPAnswer && conn.role == RoleAnswerer {
		return NewNegotiationError(ErrorCodeWrongRole, participantID, "answer received by the answering side", nil)
	}

	info, err := inspectDescription(desc)
	if err != nil {
		return m.fail(ErrorCodeDescriptionRejected, participantID, "invalid remote description", err)
	}

	conn.opMu.Lock()
	defer conn.opMu.Unlock()

	if conn.Closed() {
		return ErrConnectionClosed
	}
	// новое описание от отвечающей стороны означает возможный restart,
	// кандидаты новой генерации не должны применяться раньше него
	conn.markRemotePending()

	if err := conn.pc.SetRemoteDescription(ctx, desc); err != nil {
		return m.fail(ErrorCodeDescriptionRejected, participantID, "apply remote description", err)
	}

	flushed := conn.flushCandidates(info.Ufrag)
	m.metrics.candidatesApplied.Add(float64(flushed))
	conn.log.Debug("remote description applied",
		zap.String("type", string(desc.Type)),
		zap.Int("media_sections", len(info.Kinds)),
		zap.Int("flushed_candidates", flushed))
	return nil
}

// AddICECandidate применяет удаленного кандидата или откладывает его.
// Для закрытых соединений и повторных кандидатов ошибка не возвращается.
func (m *Manager) AddICECandidate(participantID string, c rtc.ICECandidate) error {
	m.mu.Lock()
	conn, ok := m.conns[participantID]
	if !ok {
		if m.tombstone[participantID] {
			m.mu.Unlock()
			return nil
		}
		early := m.early[participantID]
		if len(early) >= m.cfg.EarlyCandidateLimit {
			m.mu.Unlock()
			m.log.Warn("early candidate limit reached, dropping candidate",
				zap.String("participant_id", participantID))
			return nil
		}
		m.early[participantID] = append(early, c)
		m.mu.Unlock()
		m.metrics.candidatesBuffered.Inc()
		return nil
	}
	m.mu.Unlock()

	if conn.addCandidate(c) {
		m.metrics.candidatesBuffered.Inc()
	} else {
		m.metrics.candidatesApplied.Inc()
	}
	return nil
}

// ReplaceTrack подменяет исходящий трек указанного типа во всех соединениях без пересогласования
func (m *Manager) ReplaceTrack(kind rtc.TrackKind, track rtc.LocalTrack) error {
	var firstErr error
	for _, conn := range m.Connections() {
		sender := conn.sender(kind)
		if sender == nil {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			conn.log.Warn("replace track failed", zap.String("kind", string(kind)), zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "replace %s track for %s", kind, conn.participantID)
			}
		}
	}
	return firstErr
}

// Close закрывает соединение участника и удаляет его потоки
func (m *Manager) Close(participantID string) error {
	m.mu.Lock()
	conn, ok := m.conns[participantID]
	delete(m.conns, participantID)
	delete(m.early, participantID)
	m.tombstone[participantID] = true
	m.mu.Unlock()

	if ok && conn.close() {
		m.metrics.closed.Inc()
		m.metrics.active.Dec()
		conn.log.Info("peer connection closed")
	}
	m.registry.Remove(participantID)
	return nil
}

// CloseAll закрывает все соединения
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.early = make(map[string][]rtc.ICECandidate)
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

func (m *Manager) fail(code NegotiationErrorCode, participantID, msg string, cause error) error {
	m.metrics.negotiationErrors.WithLabelValues(code.String()).Inc()
	m.log.Warn("negotiation failed",
		zap.String("participant_id", participantID),
		zap.Stringer("code", code),
		zap.Error(cause))
	return NewNegotiationError(code, participantID, msg, cause)
}
